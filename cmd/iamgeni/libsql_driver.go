//go:build cgo

package main

// The libsql driver is cgo-only; it is registered whenever cgo is available.
import _ "github.com/tursodatabase/go-libsql"
