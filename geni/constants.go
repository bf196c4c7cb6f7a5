package geni

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "iamgeni"
	DefaultDatabaseType = "sqlite"
	DefaultListenAddr   = ":8000"
	DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	DefaultSearchIndex  = "iam-docs-rag"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userConfigDir(), DefaultAppName, "data")
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDatabaseDir, "threads.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
