package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/users"
)

// ErrInvalidCredentials is returned for a failed password login without
// revealing whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// LoginWithPassword authenticates a user by primary email and password and
// starts a session lineage on success.
func (m *Manager) LoginWithPassword(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := m.repos.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[LoginWithPassword] user lookup")
	}

	if user.PasswordHash == "" || !users.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return m.Login(ctx, user.ID)
}
