package userrepo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/awesome-pro/stack/users"
)

var _ users.Repo = (*Memory)(nil)

// Memory is an in-memory user repository guarded by a RWMutex. Suitable for
// tests and single-process deployments.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*users.User
	nowFunc  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*users.User),
		nowFunc: time.Now,
	}
}

func (m *Memory) GetByID(_ context.Context, id string) (*users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return user.Clone(), nil
}

func (m *Memory) GetByEmail(_ context.Context, email string) (*users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.byID {
		if user.PrimaryEmail != nil && strings.EqualFold(user.PrimaryEmail.Address, email) {
			return user.Clone(), nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (m *Memory) GetByProviderIdentity(_ context.Context, provider, subject string) (*users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.byID {
		if user.HasProviderIdentity(provider, subject) {
			return user.Clone(), nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (m *Memory) Create(_ context.Context, user *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[user.ID]; ok {
		return users.ErrUserExists
	}
	stored := user.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.nowFunc()
	}
	m.byID[user.ID] = stored
	return nil
}

func (m *Memory) UpdateMetadata(_ context.Context, id string, partition users.Partition, patch users.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return users.ErrUserNotFound
	}

	switch partition {
	case users.PartitionClient:
		user.ClientMetadata = user.ClientMetadata.Merge(patch)
	case users.PartitionClientReadOnly:
		user.ClientReadOnlyMetadata = user.ClientReadOnlyMetadata.Merge(patch)
	case users.PartitionServer:
		user.ServerMetadata = user.ServerMetadata.Merge(patch)
	default:
		return users.ErrBadPartition
	}
	return nil
}

func (m *Memory) LinkProviderIdentity(_ context.Context, id string, identity users.ProviderIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return users.ErrUserNotFound
	}
	if user.HasProviderIdentity(identity.Provider, identity.Subject) {
		return nil
	}
	user.ProviderIdentities = append(user.ProviderIdentities, identity)
	return nil
}

func (m *Memory) TouchLastLogin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return users.ErrUserNotFound
	}
	user.LastLogin = m.nowFunc()
	return nil
}
