// Package guard turns a resolution outcome into a transport-agnostic access
// decision. It holds no state and performs no I/O, so route handlers and
// middleware in any transport can share the same gating logic.
package guard

import (
	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/users"
)

// DecisionKind classifies what the caller should do with the request.
type DecisionKind string

const (
	// Allow lets the request proceed with the resolved user attached.
	Allow DecisionKind = "allow"
	// RedirectTo sends the caller to Decision.Location, typically a sign-in page.
	RedirectTo DecisionKind = "redirect"
	// Deny refuses the request outright.
	Deny DecisionKind = "deny"
)

// Decision is the outcome of evaluating a resolution against a policy.
type Decision struct {
	Kind     DecisionKind
	Location string      // set when Kind is RedirectTo
	User     *users.User // set when Kind is Allow
}

// Evaluate maps a resolution to an access decision. It never inspects tokens
// or touches storage; all authentication work happened during resolution.
//
// An authenticated resolution always allows, regardless of policy. An
// unauthenticated one denies under the return-null and throw policies and
// redirects to signInURL under the redirect policy. A nil resolution is
// treated as unauthenticated.
func Evaluate(res *auth.Resolution, policy auth.Policy, signInURL string) Decision {
	if res.Authenticated() {
		return Decision{Kind: Allow, User: res.User}
	}
	if policy == auth.PolicyRedirect {
		return Decision{Kind: RedirectTo, Location: signInURL}
	}
	return Decision{Kind: Deny}
}
