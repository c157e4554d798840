package sessions

import "time"

// Session is one authenticated device/browser lineage: a chain of
// refresh-token rotations belonging to one user. RefreshID is the identifier
// of the lineage's current refresh token; presenting any earlier identifier is
// treated as reuse and kills the whole lineage.
type Session struct {
	ID        string    // Unique session identifier (UUID)
	UserID    string    // Owning user
	RefreshID string    // Current refresh-token identifier
	CreatedAt time.Time // When the session was created
	RotatedAt time.Time // Last refresh rotation
	Revoked   bool      // Set on sign-out or detected reuse
}
