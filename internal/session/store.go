package session

import (
	"context"
	"errors"

	"ciro-tutor/internal/model"
)

// ErrNotFound is returned when no session exists for a thread id. The
// orchestrator treats it as "create new session"; any other error is a
// persistence failure and fatal for the turn.
var ErrNotFound = errors.New("session not found")

// Store persists one SessionState per thread id.
//
// Contract:
// - Save is a full-row upsert keyed by ThreadID, so at-least-once delivery
//   of the same turn's write is idempotent.
// - The store does not serialize writers; the orchestrator holds a
//   per-thread lock across its read-modify-write.
type Store interface {
	Get(ctx context.Context, threadID string) (*model.SessionState, error)
	Save(ctx context.Context, state *model.SessionState) error
	Close() error
}
