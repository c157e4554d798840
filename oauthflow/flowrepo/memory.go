package flowrepo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/oauthflow"
)

var _ oauthflow.Repo = (*Memory)(nil)

// Memory is an in-memory flow-state repository. Consume holds the write lock
// for the whole check-and-mark, so concurrent duplicate callbacks resolve to
// exactly one winner.
type Memory struct {
	mu    sync.RWMutex
	flows map[string]*oauthflow.FlowState
}

func NewMemory() *Memory {
	return &Memory{
		flows: make(map[string]*oauthflow.FlowState),
	}
}

func (m *Memory) Create(_ context.Context, flow *oauthflow.FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[flow.State]; ok {
		return errors.New("flow state collision")
	}
	clone := *flow
	m.flows[flow.State] = &clone
	return nil
}

func (m *Memory) Consume(_ context.Context, state string) (*oauthflow.FlowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[state]
	if !ok {
		return nil, oauthflow.ErrFlowStateInvalid
	}
	if flow.Consumed {
		return nil, oauthflow.ErrFlowAlreadyConsumed
	}
	flow.Consumed = true

	clone := *flow
	return &clone, nil
}

func (m *Memory) UpdateStatus(_ context.Context, state string, status oauthflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[state]
	if !ok {
		return oauthflow.ErrFlowStateInvalid
	}
	if !flow.Status.CanTransition(status) {
		return errors.Errorf("invalid flow transition %s -> %s", flow.Status, status)
	}
	flow.Status = status
	return nil
}

func (m *Memory) DeleteExpired(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for state, flow := range m.flows {
		if flow.ExpiresAt.Before(cutoff) {
			delete(m.flows, state)
		}
	}
	return nil
}

// Get returns a flow record without consuming it. Test helper.
func (m *Memory) Get(state string) (*oauthflow.FlowState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flow, ok := m.flows[state]
	if !ok {
		return nil, false
	}
	clone := *flow
	return &clone, true
}
