package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/awesome-pro/stack/sessions"
	"github.com/awesome-pro/stack/token"
	"github.com/awesome-pro/stack/users"
)

const (
	// DefaultAccessTTL keeps the blast radius of a revoked session small:
	// access tokens stay valid until natural expiry after sign-out.
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultSignInURL  = "/auth/sign-in"
)

// TokenPair is one access + refresh credential pair bound to a session.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// Resolution is the outcome of resolving the current user for a request.
// Exactly one of the fields is meaningful: User on success, RedirectURL when
// the redirect policy fired, neither for a null resolution.
type Resolution struct {
	User        *users.User
	SessionID   string
	Pair        *TokenPair // set when a silent refresh minted new tokens
	RedirectURL string
}

// Authenticated reports whether a user was resolved.
func (r *Resolution) Authenticated() bool {
	return r != nil && r.User != nil
}

// Repos holds all repository dependencies for the Manager
type Repos struct {
	Users    users.Repo     // Repository for user records
	Sessions sessions.Store // Store for session lineages
}

// Manager orchestrates login, refresh, sign-out, and current-user resolution.
// It owns session and flow-state lifecycles; the token codec never persists
// anything and user records belong to the injected user repo.
type Manager struct {
	repos      Repos
	codec      *token.Codec
	logger     zerolog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	signInURL  string
	events     *hub
	nowFunc    func() time.Time
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTTL = ttl
	}
}

// WithRefreshTTL sets the lifetime of issued refresh tokens.
func WithRefreshTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTTL = ttl
	}
}

// WithSignInURL sets the destination signalled under the redirect policy.
func WithSignInURL(url string) ManagerOption {
	return func(m *Manager) {
		m.signInURL = url
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// NewManager initializes a Manager with required dependencies.
func NewManager(repos Repos, codec *token.Codec, options ...ManagerOption) (*Manager, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewManager] Users repo is required")
	}
	if repos.Sessions == nil {
		return nil, errors.New("[NewManager] Sessions store is required")
	}
	if codec == nil {
		return nil, errors.New("[NewManager] token codec is required")
	}

	m := &Manager{
		repos:      repos,
		codec:      codec,
		logger:     zerolog.Nop(),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		signInURL:  DefaultSignInURL,
		events:     newHub(),
		nowFunc:    time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// SignInURL returns the configured sign-in destination.
func (m *Manager) SignInURL() string {
	return m.signInURL
}

// Subscribe returns a channel of user-state change events. The subscription
// ends when ctx is cancelled. Slow consumers miss events rather than blocking
// the publisher.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.events.subscribe(ctx)
}

// Login creates a new session lineage for the user and mints its first token
// pair.
func (m *Manager) Login(ctx context.Context, userID string) (*TokenPair, error) {
	if _, err := m.repos.Users.GetByID(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "[Login] user lookup")
	}

	session, err := m.repos.Sessions.Create(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Login] session create")
	}

	pair, err := m.mintPair(userID, session.ID, session.RefreshID)
	if err != nil {
		return nil, err
	}

	if err := m.repos.Users.TouchLastLogin(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record login time")
	}

	m.logger.Info().Str("user_id", userID).Str("session_id", session.ID).Msg("login")
	m.events.publish(Event{Kind: EventSignedIn, UserID: userID, SessionID: session.ID, At: m.nowFunc()})

	return pair, nil
}

// Refresh redeems a refresh token for a fresh pair: an atomic
// rotate-or-reject. Presenting a stale refresh identifier is treated as
// compromise and revokes the whole lineage.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	session, err := m.repos.Sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Refresh] session lookup")
	}
	if session.Revoked {
		return nil, ErrSessionRevoked
	}

	next := newRefreshID()
	rotated, err := m.repos.Sessions.CompareAndRotate(ctx, session.ID, claims.RefreshID, next)
	if err != nil {
		return nil, errors.Wrap(err, "[Refresh] rotate")
	}
	if !rotated {
		// Reuse of a superseded refresh token. Kill the lineage before
		// surfacing; this path is never silently retried.
		if err := m.repos.Sessions.Revoke(ctx, session.ID); err != nil {
			m.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to revoke compromised session")
		}
		m.logger.Warn().
			Str("session_id", session.ID).
			Str("user_id", session.UserID).
			Msg("refresh token reuse detected")
		return nil, ErrSessionCompromised
	}

	pair, err := m.mintPair(session.UserID, session.ID, next)
	if err != nil {
		return nil, err
	}

	m.events.publish(Event{Kind: EventRefreshed, UserID: session.UserID, SessionID: session.ID, At: m.nowFunc()})

	return pair, nil
}

// ResolveCurrentUser verifies the presented credentials and returns the
// current user, attempting at most one silent refresh when the access token
// has expired. The policy decides how an unauthenticated outcome is reported;
// no internal error detail leaks under the redirect policy.
func (m *Manager) ResolveCurrentUser(ctx context.Context, creds Credentials, policy Policy) (*Resolution, error) {
	if creds.AccessToken == "" {
		return m.unauthenticated(policy, nil)
	}

	claims, err := m.codec.Verify(creds.AccessToken, token.KindAccess)
	if err == nil {
		user, lookupErr := m.repos.Users.GetByID(ctx, claims.UserID)
		if lookupErr != nil {
			return m.unauthenticated(policy, lookupErr)
		}
		return &Resolution{User: m.filterUser(user, creds.Context), SessionID: claims.SessionID}, nil
	}

	// Only an expired token earns a silent refresh; every other verification
	// failure is a hard reject.
	if !errors.Is(err, token.ErrTokenExpired) || creds.RefreshToken == "" {
		return m.unauthenticated(policy, err)
	}

	pair, err := m.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionCompromised) {
			return nil, err
		}
		return m.unauthenticated(policy, err)
	}

	refreshed, err := m.codec.Verify(pair.AccessToken, token.KindAccess)
	if err != nil {
		return nil, errors.Wrap(err, "[ResolveCurrentUser] minted token failed verification")
	}

	user, err := m.repos.Users.GetByID(ctx, refreshed.UserID)
	if err != nil {
		return m.unauthenticated(policy, err)
	}

	return &Resolution{User: m.filterUser(user, creds.Context), SessionID: pair.SessionID, Pair: pair}, nil
}

// SignOut revokes the session lineage. Already-issued access tokens remain
// valid until natural expiry; keep the access TTL short.
func (m *Manager) SignOut(ctx context.Context, sessionID string) error {
	session, err := m.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "[SignOut] session lookup")
	}

	if err := m.repos.Sessions.Revoke(ctx, sessionID); err != nil {
		return errors.Wrap(err, "[SignOut] revoke")
	}

	m.logger.Info().Str("session_id", sessionID).Str("user_id", session.UserID).Msg("sign-out")
	m.events.publish(Event{Kind: EventSignedOut, UserID: session.UserID, SessionID: sessionID, At: m.nowFunc()})

	return nil
}

// PartitionedPatch carries metadata writes grouped by target partition.
type PartitionedPatch struct {
	Client         users.Metadata
	ClientReadOnly users.Metadata
	Server         users.Metadata
}

// UpdateMetadata applies metadata writes. A client-context caller may only
// touch the client partition; anything else fails with ErrForbidden before a
// single write lands.
func (m *Manager) UpdateMetadata(ctx context.Context, userID string, patch PartitionedPatch, caller Context) error {
	if caller == ContextClient && (len(patch.ClientReadOnly) > 0 || len(patch.Server) > 0) {
		return errors.Wrap(ErrForbidden, "client context cannot write protected partitions")
	}

	if len(patch.Client) > 0 {
		if err := m.repos.Users.UpdateMetadata(ctx, userID, users.PartitionClient, patch.Client); err != nil {
			return errors.Wrap(err, "[UpdateMetadata] client partition")
		}
	}
	if len(patch.ClientReadOnly) > 0 {
		if err := m.repos.Users.UpdateMetadata(ctx, userID, users.PartitionClientReadOnly, patch.ClientReadOnly); err != nil {
			return errors.Wrap(err, "[UpdateMetadata] client read-only partition")
		}
	}
	if len(patch.Server) > 0 {
		if err := m.repos.Users.UpdateMetadata(ctx, userID, users.PartitionServer, patch.Server); err != nil {
			return errors.Wrap(err, "[UpdateMetadata] server partition")
		}
	}

	return nil
}

// GetUser returns a user with partitions filtered for the caller context.
func (m *Manager) GetUser(ctx context.Context, userID string, caller Context) (*users.User, error) {
	user, err := m.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.filterUser(user, caller), nil
}

func (m *Manager) mintPair(userID, sessionID, refreshID string) (*TokenPair, error) {
	now := m.nowFunc()

	access, err := m.codec.Issue(token.Claims{
		UserID:    userID,
		SessionID: sessionID,
	}, token.KindAccess, m.accessTTL)
	if err != nil {
		return nil, errors.Wrap(err, "[mintPair] access token")
	}

	refresh, err := m.codec.Issue(token.Claims{
		UserID:    userID,
		SessionID: sessionID,
		RefreshID: refreshID,
	}, token.KindRefresh, m.refreshTTL)
	if err != nil {
		return nil, errors.Wrap(err, "[mintPair] refresh token")
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshExpiresAt: now.Add(m.refreshTTL),
		SessionID:        sessionID,
	}, nil
}

func (m *Manager) filterUser(user *users.User, caller Context) *users.User {
	if caller == ContextServer {
		return user.Clone()
	}
	return user.ForClient()
}

func newRefreshID() string {
	return uuid.New().String()
}

func (m *Manager) unauthenticated(policy Policy, cause error) (*Resolution, error) {
	if cause != nil {
		m.logger.Debug().Err(cause).Msg("resolution failed")
	}

	switch policy {
	case PolicyRedirect:
		return &Resolution{RedirectURL: m.signInURL}, nil
	case PolicyThrow:
		return nil, ErrUnauthenticated
	default:
		return &Resolution{}, nil
	}
}
