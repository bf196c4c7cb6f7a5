package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/google/uuid"
)

// ErrThreadNotFound is returned for unknown or invalidated thread handles.
var ErrThreadNotFound = errors.New("thread not found")

// SQLThreadStore implements ThreadStore on the migrated threads / thread_turns tables.
// It works with both the libsql and the pure-Go sqlite drivers.
type SQLThreadStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLThreadStore creates a new thread store. The schema must already be migrated.
func NewSQLThreadStore(db *sql.DB) *SQLThreadStore {
	return &SQLThreadStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateThread allocates a new opaque thread handle.
func (s *SQLThreadStore) CreateThread(ctx context.Context, kind string) (ports.Thread, error) {
	thread := ports.Thread{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, kind, created_at) VALUES (?, ?, ?)`,
		thread.ID, thread.Kind, thread.CreatedAt)
	if err != nil {
		return ports.Thread{}, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// GetThread loads a thread handle. Invalidated threads are returned with Invalidated set.
func (s *SQLThreadStore) GetThread(ctx context.Context, id string) (ports.Thread, error) {
	var (
		thread      ports.Thread
		invalidated sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, created_at, invalidated_at FROM threads WHERE id = ?`, id).
		Scan(&thread.ID, &thread.Kind, &thread.CreatedAt, &invalidated)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return ports.Thread{}, fmt.Errorf("failed to load thread: %w", err)
	}
	thread.Invalidated = invalidated.Valid
	return thread, nil
}

// InvalidateThread marks a handle as unusable. Handles are never reused.
func (s *SQLThreadStore) InvalidateThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET invalidated_at = ? WHERE id = ? AND invalidated_at IS NULL`, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to invalidate thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// SaveTurn appends a turn to a thread.
func (s *SQLThreadStore) SaveTurn(ctx context.Context, threadID string, turn ports.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO thread_turns (thread_id, turn_data, created_at) VALUES (?, ?, ?)`,
		threadID, string(turnJSON), turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// LoadContext loads the last k turns of a thread, oldest first.
func (s *SQLThreadStore) LoadContext(ctx context.Context, threadID string, k int) ([]ports.Turn, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_data FROM thread_turns
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT ?`, threadID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var turnJSON string
		if err := rows.Scan(&turnJSON); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn ports.Turn
		if err := json.Unmarshal([]byte(turnJSON), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Ensure SQLThreadStore implements the ThreadStore interface.
var _ ports.ThreadStore = (*SQLThreadStore)(nil)
