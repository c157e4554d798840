package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags a token as either an access or a refresh credential. The tag is
// embedded in the signed claims so a refresh token can never pass as an access
// token or vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims are the application-level claims carried by a signed token. Access
// tokens carry UserID and SessionID; refresh tokens additionally carry the
// RefreshID that must match the session store's current rotation value.
type Claims struct {
	UserID    string
	SessionID string
	RefreshID string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string // jti
}

// wireClaims is the JWT shape placed on the wire.
type wireClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	RefreshID string `json:"rid,omitempty"`
	Kind      string `json:"knd"`
}

func (w *wireClaims) toClaims() *Claims {
	c := &Claims{
		UserID:    w.Subject,
		SessionID: w.SessionID,
		RefreshID: w.RefreshID,
		Kind:      Kind(w.Kind),
		ID:        w.RegisteredClaims.ID,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.Time
	}
	return c
}
