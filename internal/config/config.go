// Package config loads the service configuration from the environment.
// A .env file is honoured when present so local development does not need
// exported variables.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/awesome-pro/stack/oauthflow"
)

// Provider configures one external OAuth provider. Fields map onto
// environment variables under the provider's prefix, e.g.
// OAUTH_GOOGLE_CLIENT_ID.
type Provider struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	AuthURL      string   `env:"AUTH_URL"`
	TokenURL     string   `env:"TOKEN_URL"`
	IssuerURL    string   `env:"ISSUER_URL"`
	UserInfoURL  string   `env:"USERINFO_URL"`
	Scopes       []string `env:"SCOPES" envDefault:"openid,email,profile"`
	AllowSignUp  bool     `env:"ALLOW_SIGNUP" envDefault:"true"`
}

// Enabled reports whether the provider has credentials configured.
func (p Provider) Enabled() bool {
	return p.ClientID != ""
}

// Config is the full service configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Token signing. When RSAKeyPath is set the service signs with RS256 and
	// publishes a JWKS; otherwise HMACSecret is required. The previous-key
	// fields let verification span a rotation window.
	HMACSecret         string `env:"TOKEN_HMAC_SECRET"`
	PreviousHMACSecret string `env:"TOKEN_HMAC_SECRET_PREVIOUS"`
	RSAKeyPath         string `env:"TOKEN_RSA_KEY_PATH"`
	PreviousRSAKeyPath string `env:"TOKEN_RSA_KEY_PATH_PREVIOUS"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"5m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	ClockLeeway     time.Duration `env:"TOKEN_CLOCK_LEEWAY" envDefault:"30s"`

	SignInURL    string        `env:"SIGN_IN_URL" envDefault:"/auth/sign-in"`
	FlowStateTTL time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Storage. When both are empty the service runs on in-memory stores,
	// which is only suitable for development.
	PostgresURL string `env:"POSTGRES_URL"`
	RedisURL    string `env:"REDIS_URL"`

	Google Provider `envPrefix:"OAUTH_GOOGLE_"`
	GitHub Provider `envPrefix:"OAUTH_GITHUB_"`
}

// Load reads configuration from the environment, loading a .env file first
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "[config Load] failed to parse environment")
	}
	if cfg.HMACSecret == "" && cfg.RSAKeyPath == "" {
		return nil, errors.New("[config Load] TOKEN_HMAC_SECRET or TOKEN_RSA_KEY_PATH is required")
	}
	return cfg, nil
}

// Providers returns the enabled provider configurations in the shape the
// flow coordinator consumes.
func (c *Config) Providers() []oauthflow.ProviderConfig {
	named := map[string]Provider{
		"google": c.Google,
		"github": c.GitHub,
	}

	var out []oauthflow.ProviderConfig
	for name, p := range named {
		if !p.Enabled() {
			continue
		}
		out = append(out, oauthflow.ProviderConfig{
			Name:         name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			IssuerURL:    p.IssuerURL,
			UserInfoURL:  p.UserInfoURL,
			Scopes:       p.Scopes,
			AllowSignUp:  p.AllowSignUp,
		})
	}
	return out
}
