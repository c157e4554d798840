package sessionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awesome-pro/stack/sessions"
)

var _ sessions.Store = (*Memory)(nil)

// Memory is an in-memory session store. The single mutex makes
// CompareAndRotate a true check-and-set.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*sessions.Session
	nowFunc func() time.Time
}

type MemoryOption func(*Memory)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.nowFunc = now
	}
}

func NewMemory(options ...MemoryOption) *Memory {
	m := &Memory{
		byID:    make(map[string]*sessions.Session),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *Memory) Create(_ context.Context, userID string) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	session := &sessions.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		RefreshID: uuid.New().String(),
		CreatedAt: now,
		RotatedAt: now,
	}
	m.byID[session.ID] = session

	clone := *session
	return &clone, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*sessions.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.byID[id]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *Memory) CompareAndRotate(_ context.Context, id, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byID[id]
	if !ok {
		return false, sessions.ErrSessionNotFound
	}
	if session.Revoked || session.RefreshID != expected {
		return false, nil
	}

	session.RefreshID = next
	session.RotatedAt = m.nowFunc()
	return true, nil
}

func (m *Memory) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byID[id]
	if !ok {
		return sessions.ErrSessionNotFound
	}
	session.Revoked = true
	return nil
}
