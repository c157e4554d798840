package token

import "errors"

// Verification failures are distinguishable so callers can decide between a
// silent refresh (only on ErrTokenExpired) and a hard reject (everything else).
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenKindMismatch     = errors.New("token kind mismatch")
	ErrEncoding              = errors.New("token claims not encodable")
)
