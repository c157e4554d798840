package oauthflow

import "time"

// Status is the position of a flow in its lifecycle. Flows move strictly
// forward; Failed absorbs from any non-terminal status.
type Status string

const (
	StatusInitiated        Status = "initiated"
	StatusRedirected       Status = "redirected"
	StatusCallbackReceived Status = "callback_received"
	StatusExchanged        Status = "exchanged"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

var statusOrder = map[Status]int{
	StatusInitiated:        0,
	StatusRedirected:       1,
	StatusCallbackReceived: 2,
	StatusExchanged:        3,
	StatusCompleted:        4,
}

// CanTransition reports whether a flow may move from s to next.
func (s Status) CanTransition(next Status) bool {
	if s == StatusCompleted || s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FlowState is the ephemeral anti-forgery record anchoring one authorization
// attempt. It is keyed by the random state value, redeemed at most once, and
// expires after a bounded window even if unused.
type FlowState struct {
	State        string    // Random state value (the record key)
	Provider     string    // Provider the flow was started against
	CodeVerifier string    // PKCE verifier, sent with the code exchange
	Nonce        string    // Replay protection for the provider ID token
	RedirectURI  string    // Redirect URI the client requested
	Status       Status    // Current lifecycle position
	CreatedAt    time.Time // When the flow was started
	ExpiresAt    time.Time // Hard expiry of the record
	Consumed     bool      // Set atomically on first redemption
}

// Expired reports whether the flow record is past its window at now.
func (f *FlowState) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}
