package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKEN_HMAC_SECRET", "secret")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, "/auth/sign-in", cfg.SignInURL)
	require.Empty(t, cfg.Providers(), "no providers without credentials")
}

func TestLoadRequiresSigningMaterial(t *testing.T) {
	t.Setenv("TOKEN_HMAC_SECRET", "")
	t.Setenv("TOKEN_RSA_KEY_PATH", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestProviderPrefixes(t *testing.T) {
	t.Setenv("TOKEN_HMAC_SECRET", "secret")
	t.Setenv("OAUTH_GOOGLE_CLIENT_ID", "google-client")
	t.Setenv("OAUTH_GOOGLE_CLIENT_SECRET", "google-secret")
	t.Setenv("OAUTH_GOOGLE_ISSUER_URL", "https://accounts.google.com")
	t.Setenv("OAUTH_GOOGLE_ALLOW_SIGNUP", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	providers := cfg.Providers()
	require.Len(t, providers, 1)
	require.Equal(t, "google", providers[0].Name)
	require.Equal(t, "google-client", providers[0].ClientID)
	require.Equal(t, "https://accounts.google.com", providers[0].IssuerURL)
	require.False(t, providers[0].AllowSignUp)
	require.Equal(t, []string{"openid", "email", "profile"}, providers[0].Scopes)
}
