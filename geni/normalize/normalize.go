// Package normalize decides how a raw capability result is presented: as a
// table, a counted table, an empty state or plain text. It never changes the
// data itself; stored and fresh results render the same way.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Kind is the presentation decision for a result.
type Kind int

const (
	// KindText renders the original string unchanged.
	KindText Kind = iota
	// KindEmpty renders the empty state for an empty row list.
	KindEmpty
	// KindTable renders rows in order.
	KindTable
	// KindCounted renders a total line followed by a table.
	KindCounted
)

// EmptyText is shown for an empty row list.
const EmptyText = "No rows."

// ValueColumn holds scalar elements of a row list.
const ValueColumn = "Value"

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindTable:
		return "table"
	case KindCounted:
		return "counted"
	default:
		return "text"
	}
}

// Table is an ordered set of rows. Columns follow first-seen key order.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Rendering is the outcome of Normalize.
type Rendering struct {
	Kind  Kind
	Text  string // original result for KindText
	Total string // total label for KindCounted
	Table Table
}

// Structured reports whether the result is shown as data rather than text.
func (r Rendering) Structured() bool {
	return r.Kind != KindText
}

// Normalize classifies a raw result string. The same input always yields the
// same rendering.
func Normalize(result string) Rendering {
	data := []byte(strings.TrimSpace(result))
	if len(data) == 0 || !json.Valid(data) {
		return Rendering{Kind: KindText, Text: result}
	}

	switch data[0] {
	case '[':
		table, ok := rowsOf(data)
		if !ok {
			return Rendering{Kind: KindText, Text: result}
		}
		if len(table.Rows) == 0 {
			return Rendering{Kind: KindEmpty, Text: EmptyText}
		}
		return Rendering{Kind: KindTable, Table: table}

	case '{':
		if groups, dataType, _, err := jsonparser.Get(data, "groups"); err == nil && dataType == jsonparser.Array {
			table, ok := rowsOf(groups)
			if !ok {
				return Rendering{Kind: KindText, Text: result}
			}
			total := strconv.Itoa(len(table.Rows))
			if count, countType, _, err := jsonparser.Get(data, "count"); err == nil {
				total = cellText(count, countType)
			}
			return Rendering{Kind: KindCounted, Total: total, Table: table}
		}
		table := newTableBuilder()
		if !table.addObject(data) {
			return Rendering{Kind: KindText, Text: result}
		}
		return Rendering{Kind: KindTable, Table: table.build()}

	default:
		// JSON scalars are plain text
		return Rendering{Kind: KindText, Text: result}
	}
}

// rowsOf turns a JSON array into a table; objects become rows and scalars go
// into the Value column.
func rowsOf(data []byte) (Table, bool) {
	table := newTableBuilder()
	ok := true
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil || !ok {
			ok = false
			return
		}
		if dataType == jsonparser.Object {
			ok = table.addObject(value)
			return
		}
		table.addRow(map[string]string{ValueColumn: cellText(value, dataType)}, []string{ValueColumn})
	})
	if err != nil || !ok {
		return Table{}, false
	}
	return table.build(), true
}

type tableBuilder struct {
	columns []string
	seen    map[string]bool
	rows    []map[string]string
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{seen: map[string]bool{}}
}

func (b *tableBuilder) addObject(data []byte) bool {
	row := map[string]string{}
	var keys []string
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		// ObjectEach hands over keys already unescaped
		name := string(key)
		if _, dup := row[name]; !dup {
			keys = append(keys, name)
		}
		row[name] = cellText(value, dataType)
		return nil
	})
	if err != nil {
		return false
	}
	b.addRow(row, keys)
	return true
}

func (b *tableBuilder) addRow(row map[string]string, keys []string) {
	for _, k := range keys {
		if !b.seen[k] {
			b.seen[k] = true
			b.columns = append(b.columns, k)
		}
	}
	b.rows = append(b.rows, row)
}

func (b *tableBuilder) build() Table {
	rows := make([][]string, len(b.rows))
	for i, row := range b.rows {
		cells := make([]string, len(b.columns))
		for j, col := range b.columns {
			cells[j] = row[col]
		}
		rows[i] = cells
	}
	return Table{Columns: b.columns, Rows: rows}
}

// cellText renders a JSON value: strings unquoted, everything else as its JSON text.
func cellText(value []byte, dataType jsonparser.ValueType) string {
	if dataType == jsonparser.String {
		if s, err := jsonparser.ParseString(value); err == nil {
			return s
		}
	}
	return string(value)
}
