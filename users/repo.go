package users

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrBadPartition = errors.New("unknown metadata partition")
)

// Repo persists user records. Implementations must provide read-your-writes
// consistency per user id.
type Repo interface {
	// GetByID retrieves a user by its opaque identifier
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by primary email address
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByProviderIdentity retrieves the user linked to a provider account
	GetByProviderIdentity(ctx context.Context, provider, subject string) (*User, error)

	// Create stores a new user record
	Create(ctx context.Context, user *User) error

	// UpdateMetadata merges patch into one metadata partition of the user
	UpdateMetadata(ctx context.Context, id string, partition Partition, patch Metadata) error

	// LinkProviderIdentity attaches a provider account to an existing user
	LinkProviderIdentity(ctx context.Context, id string, identity ProviderIdentity) error

	// TouchLastLogin records a successful login time
	TouchLastLogin(ctx context.Context, id string) error
}
