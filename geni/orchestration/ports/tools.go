package orchestrationports

import (
	"context"
)

// Args are the string-valued arguments collected for an operation.
type Args map[string]string

// ToolSpec describes a callable operation.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents one operation invocation.
type ToolCall struct {
	Name string
	Args Args
}

// Tool defines the runtime that executes an operation. The returned string is
// the raw capability result: plain text, a JSON array or a JSON object.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, args Args) (string, error)
}

// Answerer is the documentation QA capability.
type Answerer interface {
	Answer(ctx context.Context, threadID, question string) (string, error)
}
