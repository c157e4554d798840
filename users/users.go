package users

import (
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/awesome-pro/stack/internal/utils"
)

// Partition identifies one of the three metadata visibility classes.
type Partition string

const (
	// PartitionClient is readable and writable by the owning client and the server.
	PartitionClient Partition = "client"
	// PartitionClientReadOnly is readable by the owning client, writable only by the server.
	PartitionClientReadOnly Partition = "client_read_only"
	// PartitionServer is readable and writable only by the server.
	PartitionServer Partition = "server"
)

// Email is a user's primary email address with its verification state.
type Email struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// ProviderIdentity links a user to an account at an external OAuth provider.
type ProviderIdentity struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	LinkedAt time.Time `json:"linked_at"`
}

type User struct {
	ID           string  `json:"id"`                      // Unique identifier for the user
	DisplayName  *string `json:"display_name,omitempty"`  // Optional display name
	PrimaryEmail *Email  `json:"primary_email,omitempty"` // Primary email with verified flag
	PasswordHash string  `json:"-"`                       // Hashed password - never serialize

	ProviderIdentities []ProviderIdentity `json:"provider_identities,omitempty"`

	// Metadata partitions. ServerMetadata must never reach a client-context
	// caller; ForClient strips it before any client-bound serialization.
	ClientMetadata         Metadata `json:"client_metadata,omitempty"`
	ClientReadOnlyMetadata Metadata `json:"client_read_only_metadata,omitempty"`
	ServerMetadata         Metadata `json:"server_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"` // When the user registered
	LastLogin time.Time `json:"last_login,omitempty"` // Last successful login
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.DisplayName != nil {
		out.DisplayName = utils.Ptr(*u.DisplayName)
	}
	if u.PrimaryEmail != nil {
		out.PrimaryEmail = utils.Ptr(*u.PrimaryEmail)
	}
	out.ProviderIdentities = append([]ProviderIdentity(nil), u.ProviderIdentities...)
	out.ClientMetadata = u.ClientMetadata.Clone()
	out.ClientReadOnlyMetadata = u.ClientReadOnlyMetadata.Clone()
	out.ServerMetadata = u.ServerMetadata.Clone()
	return &out
}

// ForClient returns a client-visible copy of the user: the server partition is
// removed entirely, so no client-bound response can carry it.
func (u *User) ForClient() *User {
	out := u.Clone()
	if out == nil {
		return nil
	}
	out.ServerMetadata = nil
	out.PasswordHash = ""
	return out
}

// Partition returns the named metadata partition.
func (u *User) Partition(p Partition) Metadata {
	switch p {
	case PartitionClient:
		return u.ClientMetadata
	case PartitionClientReadOnly:
		return u.ClientReadOnlyMetadata
	case PartitionServer:
		return u.ServerMetadata
	}
	return nil
}

// HasProviderIdentity reports whether this user is linked to the given
// provider account.
func (u *User) HasProviderIdentity(provider, subject string) bool {
	for _, identity := range u.ProviderIdentities {
		if identity.Provider == provider && identity.Subject == subject {
			return true
		}
	}
	return false
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
