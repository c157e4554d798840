package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/awesome-pro/stack/internal/utils"
	"github.com/awesome-pro/stack/users"
)

// DefaultStateTTL bounds how long an unused flow record stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// StartResult is handed back to the caller driving the browser redirect.
type StartResult struct {
	AuthorizationURL string
	State            string
}

// Identity is the provider-asserted identity produced by a completed flow,
// already mapped onto a local user record.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	User          *users.User
}

// Coordinator drives the external-provider authorization-code exchange:
// state and nonce anti-forgery tokens, PKCE verifier handling, the code
// exchange itself, and mapping the provider identity onto a local user.
type Coordinator struct {
	registry   *Registry
	flows      Repo
	users      users.Repo
	logger     zerolog.Logger
	stateTTL   time.Duration
	nowFunc    func() time.Time
	httpClient *http.Client

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

// CoordinatorOption defines a function type to modify the Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithStateTTL sets the redeemable window of flow records.
func WithStateTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.stateTTL = ttl
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

// WithHTTPClient sets the HTTP client used for provider endpoints.
func WithHTTPClient(client *http.Client) CoordinatorOption {
	return func(c *Coordinator) {
		c.httpClient = client
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator initializes a Coordinator with required dependencies.
func NewCoordinator(registry *Registry, flows Repo, userRepo users.Repo, options ...CoordinatorOption) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("[NewCoordinator] provider registry is required")
	}
	if flows == nil {
		return nil, errors.New("[NewCoordinator] flow repo is required")
	}
	if userRepo == nil {
		return nil, errors.New("[NewCoordinator] user repo is required")
	}

	c := &Coordinator{
		registry:  registry,
		flows:     flows,
		users:     userRepo,
		logger:    zerolog.Nop(),
		stateTTL:  DefaultStateTTL,
		nowFunc:   time.Now,
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Start begins an authorization flow against the named provider. It generates
// the state and nonce anti-forgery tokens plus a PKCE verifier, persists the
// flow record, and returns the provider authorization URL for the caller to
// redirect to.
func (c *Coordinator) Start(ctx context.Context, provider, redirectURI string) (*StartResult, error) {
	cfg, err := c.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	state, err := randomToken(32)
	if err != nil {
		return nil, errors.Wrap(err, "[Start] state generation")
	}
	nonce, err := randomToken(16)
	if err != nil {
		return nil, errors.Wrap(err, "[Start] nonce generation")
	}
	verifier := oauth2.GenerateVerifier()

	now := c.nowFunc()
	flow := &FlowState{
		State:        state,
		Provider:     provider,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectURI:  redirectURI,
		Status:       StatusInitiated,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.stateTTL),
	}
	if err := c.flows.Create(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "[Start] failed to persist flow state")
	}

	authURL := cfg.OAuth2Config(redirectURI).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)

	if err := c.flows.UpdateStatus(ctx, state, StatusRedirected); err != nil {
		return nil, errors.Wrap(err, "[Start] failed to mark flow redirected")
	}

	c.logger.Debug().Str("provider", provider).Msg("authorization flow started")

	return &StartResult{AuthorizationURL: authURL, State: state}, nil
}

// CompleteCallback handles the provider redirect back to us. It validates the
// returned state against the flow record (constant-time), consumes the record
// atomically, exchanges the code with the PKCE verifier, verifies the asserted
// identity, and maps it onto a local user.
func (c *Coordinator) CompleteCallback(ctx context.Context, state, code, returnedState string) (*Identity, error) {
	if subtle.ConstantTimeCompare([]byte(state), []byte(returnedState)) != 1 {
		return nil, errors.Wrap(ErrFlowStateInvalid, "state mismatch")
	}

	flow, err := c.flows.Consume(ctx, state)
	if err != nil {
		return nil, err
	}

	now := c.nowFunc()
	if flow.Expired(now) {
		c.failFlow(ctx, state)
		return nil, errors.Wrap(ErrFlowStateInvalid, "flow expired")
	}

	if err := c.flows.UpdateStatus(ctx, state, StatusCallbackReceived); err != nil {
		return nil, errors.Wrap(err, "[CompleteCallback] mark callback received")
	}

	cfg, err := c.registry.Get(flow.Provider)
	if err != nil {
		c.failFlow(ctx, state)
		return nil, err
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	// Authorization codes are single-use: the exchange is never retried here.
	// An abandoned or failed flow simply expires via its TTL.
	token, err := cfg.OAuth2Config(flow.RedirectURI).Exchange(ctx, code,
		oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		c.failFlow(ctx, state)
		// A 4xx from the token endpoint means the code itself was refused,
		// which no retry can repair; everything else is a provider outage.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, errors.Wrap(ErrCodeExchangeRejected, err.Error())
		}
		return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	if err := c.flows.UpdateStatus(ctx, state, StatusExchanged); err != nil {
		return nil, errors.Wrap(err, "[CompleteCallback] mark exchanged")
	}

	identity, err := c.extractIdentity(ctx, cfg, flow, token)
	if err != nil {
		c.failFlow(ctx, state)
		return nil, err
	}

	user, err := c.resolveUser(ctx, cfg, identity)
	if err != nil {
		c.failFlow(ctx, state)
		return nil, err
	}
	identity.User = user

	if err := c.users.TouchLastLogin(ctx, user.ID); err != nil {
		c.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login time")
	}

	if err := c.flows.UpdateStatus(ctx, state, StatusCompleted); err != nil {
		return nil, errors.Wrap(err, "[CompleteCallback] mark completed")
	}

	c.logger.Info().
		Str("provider", flow.Provider).
		Str("user_id", user.ID).
		Msg("authorization flow completed")

	return identity, nil
}

// PurgeExpired removes flow records past their window.
func (c *Coordinator) PurgeExpired(ctx context.Context) error {
	return c.flows.DeleteExpired(ctx, c.nowFunc())
}

func (c *Coordinator) failFlow(ctx context.Context, state string) {
	if err := c.flows.UpdateStatus(ctx, state, StatusFailed); err != nil {
		c.logger.Warn().Err(err).Msg("failed to mark flow failed")
	}
}

// extractIdentity pulls the provider-asserted identity from the exchange
// result: via a verified OIDC ID token when the provider has an issuer, or via
// the userinfo endpoint otherwise.
func (c *Coordinator) extractIdentity(ctx context.Context, cfg ProviderConfig, flow *FlowState, token *oauth2.Token) (*Identity, error) {
	if rawIDToken, ok := token.Extra("id_token").(string); ok && cfg.IssuerURL != "" {
		return c.identityFromIDToken(ctx, cfg, flow, rawIDToken)
	}
	if cfg.UserInfoURL != "" {
		return c.identityFromUserInfo(ctx, cfg, token)
	}
	return nil, errors.Errorf("provider %q returned no usable identity source", cfg.Name)
}

func (c *Coordinator) identityFromIDToken(ctx context.Context, cfg ProviderConfig, flow *FlowState, rawIDToken string) (*Identity, error) {
	verifier, err := c.verifierFor(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(ErrFlowStateInvalid, "ID token verification failed")
	}

	var claims struct {
		Nonce         string `json:"nonce"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[identityFromIDToken] claims extraction")
	}

	if claims.Nonce != flow.Nonce {
		return nil, errors.Wrap(ErrFlowStateInvalid, "nonce mismatch")
	}

	return &Identity{
		Provider:      cfg.Name,
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

func (c *Coordinator) identityFromUserInfo(ctx context.Context, cfg ProviderConfig, token *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[identityFromUserInfo] request")
	}
	token.SetAuthHeader(req)

	client := c.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrProviderUnavailable, "userinfo returned %d", resp.StatusCode)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, errors.Wrap(err, "[identityFromUserInfo] decode")
	}

	return &Identity{
		Provider:      cfg.Name,
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

func (c *Coordinator) verifierFor(ctx context.Context, cfg ProviderConfig) (*oidc.IDTokenVerifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if verifier, ok := c.verifiers[cfg.Name]; ok {
		return verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[verifierFor] OIDC discovery")
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	c.verifiers[cfg.Name] = verifier
	return verifier, nil
}

// resolveUser maps a provider identity to a local user: first by linked
// provider subject, then by verified email, creating a record when the
// provider allows sign-up.
func (c *Coordinator) resolveUser(ctx context.Context, cfg ProviderConfig, identity *Identity) (*users.User, error) {
	user, err := c.users.GetByProviderIdentity(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, errors.Wrap(err, "[resolveUser] GetByProviderIdentity")
	}

	link := users.ProviderIdentity{
		Provider: identity.Provider,
		Subject:  identity.Subject,
		LinkedAt: c.nowFunc(),
	}

	if identity.EmailVerified && identity.Email != "" {
		user, err = c.users.GetByEmail(ctx, identity.Email)
		if err == nil {
			if err := c.users.LinkProviderIdentity(ctx, user.ID, link); err != nil {
				return nil, errors.Wrap(err, "[resolveUser] LinkProviderIdentity")
			}
			user.ProviderIdentities = append(user.ProviderIdentities, link)
			return user, nil
		}
		if !errors.Is(err, users.ErrUserNotFound) {
			return nil, errors.Wrap(err, "[resolveUser] GetByEmail")
		}
	}

	if !cfg.AllowSignUp {
		return nil, errors.Wrap(ErrSignUpDisabled, cfg.Name)
	}

	user = &users.User{
		ID:                 uuid.New().String(),
		ProviderIdentities: []users.ProviderIdentity{link},
		CreatedAt:          c.nowFunc(),
	}
	if identity.Name != "" {
		user.DisplayName = utils.Ptr(identity.Name)
	}
	if identity.Email != "" {
		user.PrimaryEmail = &users.Email{Address: identity.Email, Verified: identity.EmailVerified}
	}

	if err := c.users.Create(ctx, user); err != nil {
		return nil, errors.Wrap(err, "[resolveUser] Create")
	}

	return user, nil
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
