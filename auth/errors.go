package auth

import "errors"

var (
	// ErrUnauthenticated is raised when resolution fails under the throw
	// policy. Distinguishable from generic failures so callers can render an
	// authorization message.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden rejects client-context writes to protected metadata
	// partitions.
	ErrForbidden = errors.New("forbidden")

	// ErrSessionRevoked is returned for refresh attempts against a signed-out
	// session.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrSessionCompromised signals refresh-token reuse. The whole session
	// lineage is revoked as a side effect before this is returned, and it is
	// never swallowed by a silent retry.
	ErrSessionCompromised = errors.New("session compromised")
)
