package oauthflow

import (
	"context"
	"time"
)

// Repo persists flow-state records. Flow records are temporary anti-forgery
// state and should be cleaned up regularly.
type Repo interface {
	// Create stores a new flow record keyed by its state value
	Create(ctx context.Context, flow *FlowState) error

	// Consume atomically checks that the flow exists and is unconsumed, marks
	// it consumed, and returns it. Returns ErrFlowStateInvalid for an unknown
	// state and ErrFlowAlreadyConsumed for a second redemption; under
	// concurrent duplicate callbacks exactly one caller receives the record.
	Consume(ctx context.Context, state string) (*FlowState, error)

	// UpdateStatus advances the flow's lifecycle status
	UpdateStatus(ctx context.Context, state string, status Status) error

	// DeleteExpired removes flow records whose expiry is before cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) error
}
