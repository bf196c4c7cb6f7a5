package orchestrationports

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread kinds.
const (
	ThreadQA           = "qa"
	ThreadOrchestrator = "orchestrator"
)

// Turn represents one message of a conversation.
type Turn struct {
	Role      string    `json:"role"`                 // "user" | "assistant"
	Content   string    `json:"content"`              // message text or raw capability result
	CreatedAt time.Time `json:"created_at,omitzero"` // server-side timestamp
}

// Thread is an opaque conversation handle.
type Thread struct {
	ID          string
	Kind        string
	CreatedAt   time.Time
	Invalidated bool
}

// ThreadStore persists thread handles and the turns of stateful threads.
type ThreadStore interface {
	CreateThread(ctx context.Context, kind string) (Thread, error)
	GetThread(ctx context.Context, id string) (Thread, error)
	InvalidateThread(ctx context.Context, id string) error
	SaveTurn(ctx context.Context, threadID string, turn Turn) error
	LoadContext(ctx context.Context, threadID string, k int) ([]Turn, error) // last-k turns, oldest first
}
