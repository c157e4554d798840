package sessions

import (
	"context"
	"errors"
)

var ErrSessionNotFound = errors.New("session not found")

// Store persists session records. It is the only mutable shared resource of
// the credential engine, and CompareAndRotate must be atomic: two concurrent
// rotations presenting the same expected identifier must yield exactly one
// success.
type Store interface {
	// Create stores a new session for the user with a fresh RefreshID
	Create(ctx context.Context, userID string) (*Session, error)

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id string) (*Session, error)

	// CompareAndRotate atomically swaps the session's refresh identifier from
	// expected to next. It returns false without mutating anything when the
	// current identifier differs from expected or the session is revoked.
	CompareAndRotate(ctx context.Context, id, expected, next string) (bool, error)

	// Revoke marks the session revoked; rotation is refused afterwards
	Revoke(ctx context.Context, id string) error
}
