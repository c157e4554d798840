package oauthflow

import (
	"golang.org/x/oauth2"

	"github.com/pkg/errors"
)

// ProviderConfig holds one external provider's endpoints and client
// credentials. Supplied by the surrounding application as configuration.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	IssuerURL    string // OIDC issuer; enables ID-token verification when set
	UserInfoURL  string // Fallback identity endpoint for non-OIDC providers
	Scopes       []string
	AllowSignUp  bool // Create a local user when the provider identity has no match
}

// OAuth2Config builds the x/oauth2 client configuration for this provider.
func (p ProviderConfig) OAuth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}
}

// Registry maps provider names to their configuration.
type Registry struct {
	providers map[string]ProviderConfig
}

func NewRegistry(configs ...ProviderConfig) *Registry {
	r := &Registry{providers: make(map[string]ProviderConfig, len(configs))}
	for _, cfg := range configs {
		r.providers[cfg.Name] = cfg
	}
	return r
}

// Get returns the configuration for a provider name.
func (r *Registry) Get(name string) (ProviderConfig, error) {
	cfg, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, errors.Wrap(ErrUnknownProvider, name)
	}
	return cfg, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
