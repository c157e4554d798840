package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/auth"
	"github.com/awesome-pro/stack/sessions/sessionrepo"
	"github.com/awesome-pro/stack/token"
	"github.com/awesome-pro/stack/users"
	"github.com/awesome-pro/stack/users/userrepo"
)

const (
	secretStr     = "test-signing-secret-1234"
	testUserID    = "user-1"
	testUserEmail = "john.doe@example.com"
	testPassword  = "Password1"
	testSignInURL = "/auth/sign-in"
)

// testFixture holds all test dependencies
type testFixture struct {
	userRepo    *userrepo.Memory
	sessionRepo *sessionrepo.Memory
	codec       *token.Codec
	manager     *auth.Manager
	now         time.Time
}

func setupTestFixture(t *testing.T, options ...auth.ManagerOption) *testFixture {
	t.Helper()

	f := &testFixture{
		userRepo: userrepo.NewMemory(),
		now:      time.Now(),
	}
	nowFunc := func() time.Time { return f.now }

	f.sessionRepo = sessionrepo.NewMemory(sessionrepo.WithNowFunc(nowFunc))

	codec, err := token.NewCodec(
		token.NewKeyring(token.NewHMACSigner(secretStr)),
		token.WithNowFunc(nowFunc),
		token.WithLeeway(0),
	)
	require.NoError(t, err)
	f.codec = codec

	opts := append([]auth.ManagerOption{
		auth.WithNowFunc(nowFunc),
		auth.WithSignInURL(testSignInURL),
	}, options...)

	manager, err := auth.NewManager(auth.Repos{
		Users:    f.userRepo,
		Sessions: f.sessionRepo,
	}, codec, opts...)
	require.NoError(t, err)
	f.manager = manager

	return f
}

func (f *testFixture) createTestUser(t *testing.T) *users.User {
	t.Helper()

	hash, err := users.HashPassword(testPassword)
	require.NoError(t, err)

	user := &users.User{
		ID:           testUserID,
		PrimaryEmail: &users.Email{Address: testUserEmail, Verified: true},
		PasswordHash: hash,
		ClientMetadata: users.Metadata{
			"theme": users.String("dark"),
		},
		ClientReadOnlyMetadata: users.Metadata{
			"plan": users.String("pro"),
		},
		ServerMetadata: users.Metadata{
			"stripe_customer": users.String("cus_123"),
		},
	}
	require.NoError(t, f.userRepo.Create(context.Background(), user))
	return user
}

func TestLoginMintsVerifiablePair(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEmpty(t, pair.SessionID)

	access, err := f.codec.Verify(pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, testUserID, access.UserID)
	require.Equal(t, pair.SessionID, access.SessionID)

	refresh, err := f.codec.Verify(pair.RefreshToken, token.KindRefresh)
	require.NoError(t, err)
	require.NotEmpty(t, refresh.RefreshID)

	session, err := f.sessionRepo.GetByID(ctx, pair.SessionID)
	require.NoError(t, err)
	require.Equal(t, refresh.RefreshID, session.RefreshID)
}

func TestLoginUnknownUser(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.Login(context.Background(), "missing")
	require.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestLoginWithPassword(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.LoginWithPassword(ctx, testUserEmail, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)

	_, err = f.manager.LoginWithPassword(ctx, testUserEmail, "WrongPass1")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.manager.LoginWithPassword(ctx, "nobody@example.com", testPassword)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestResolveValidAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	res, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken: pair.AccessToken,
		Context:     auth.ContextClient,
	}, auth.PolicyRedirect)
	require.NoError(t, err)
	require.True(t, res.Authenticated())
	require.Empty(t, res.RedirectURL, "a resolved user must not redirect")
	require.Nil(t, res.Pair, "no refresh happened")
	require.Equal(t, testUserID, res.User.ID)
}

func TestResolveFiltersServerMetadataForClients(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	clientRes, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken: pair.AccessToken,
		Context:     auth.ContextClient,
	}, auth.PolicyThrow)
	require.NoError(t, err)
	require.Nil(t, clientRes.User.ServerMetadata)
	require.NotNil(t, clientRes.User.ClientMetadata)
	require.NotNil(t, clientRes.User.ClientReadOnlyMetadata)

	serverRes, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken: pair.AccessToken,
		Context:     auth.ContextServer,
	}, auth.PolicyThrow)
	require.NoError(t, err)
	require.NotNil(t, serverRes.User.ServerMetadata)
}

func TestResolveNoCredentials(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	res, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{}, auth.PolicyReturnNull)
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Empty(t, res.RedirectURL)

	res, err = f.manager.ResolveCurrentUser(ctx, auth.Credentials{}, auth.PolicyRedirect)
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Equal(t, testSignInURL, res.RedirectURL)

	_, err = f.manager.ResolveCurrentUser(ctx, auth.Credentials{}, auth.PolicyThrow)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestResolveSilentRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	// Let the access token expire while the refresh token stays valid.
	f.now = f.now.Add(auth.DefaultAccessTTL + time.Minute)

	res, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Context:      auth.ContextServer,
	}, auth.PolicyThrow)
	require.NoError(t, err)
	require.True(t, res.Authenticated())
	require.NotNil(t, res.Pair, "silent refresh must surface the new pair")
	require.NotEqual(t, pair.RefreshToken, res.Pair.RefreshToken)

	// The rotation is one-shot: the old refresh token is now dead, and using
	// it kills the lineage.
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrSessionCompromised)
}

func TestResolveExpiredWithoutRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	f.now = f.now.Add(auth.DefaultAccessTTL + time.Minute)

	res, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken: pair.AccessToken,
		Context:     auth.ContextClient,
	}, auth.PolicyRedirect)
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Equal(t, testSignInURL, res.RedirectURL)
}

func TestRefreshRotation(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	next, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	require.Equal(t, pair.SessionID, next.SessionID)

	// The new refresh token works once more.
	_, err = f.manager.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReuseRevokesLineage(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	rotated, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Replaying the superseded token signals compromise.
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrSessionCompromised)

	session, err := f.sessionRepo.GetByID(ctx, pair.SessionID)
	require.NoError(t, err)
	require.True(t, session.Revoked)

	// Neither the stale nor the rotated token works afterwards.
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrSessionRevoked)
	_, err = f.manager.Refresh(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, auth.ErrSessionRevoked)
}

func TestRefreshConcurrentReuse(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.manager.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var successes, compromised int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, auth.ErrSessionCompromised):
			compromised++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent refresh may win")
	require.Equal(t, 1, compromised)

	session, err := f.sessionRepo.GetByID(ctx, pair.SessionID)
	require.NoError(t, err)
	require.True(t, session.Revoked, "detected reuse revokes the lineage")
}

func TestSignOut(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	require.NoError(t, f.manager.SignOut(ctx, pair.SessionID))

	// Refresh is refused after sign-out.
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrSessionRevoked)

	// The already-issued access token stays valid until natural expiry.
	res, err := f.manager.ResolveCurrentUser(ctx, auth.Credentials{
		AccessToken: pair.AccessToken,
		Context:     auth.ContextServer,
	}, auth.PolicyThrow)
	require.NoError(t, err)
	require.True(t, res.Authenticated())
}

func TestUpdateMetadataAccessControl(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx := context.Background()

	forbidden := []auth.PartitionedPatch{
		{ClientReadOnly: users.Metadata{"plan": users.String("free")}},
		{Server: users.Metadata{"internal": users.Bool(true)}},
		{
			Client: users.Metadata{"theme": users.String("light")},
			Server: users.Metadata{"internal": users.Bool(true)},
		},
	}

	for _, patch := range forbidden {
		err := f.manager.UpdateMetadata(ctx, testUserID, patch, auth.ContextClient)
		require.ErrorIs(t, err, auth.ErrForbidden)
	}

	// The protected partitions are untouched, including by the mixed patch.
	user, err := f.userRepo.GetByID(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, user.ClientReadOnlyMetadata["plan"].Equal(users.String("pro")))
	require.True(t, user.ClientMetadata["theme"].Equal(users.String("dark")))
	_, ok := user.ServerMetadata["internal"]
	require.False(t, ok)

	// Client context may write the client partition.
	err = f.manager.UpdateMetadata(ctx, testUserID, auth.PartitionedPatch{
		Client: users.Metadata{"theme": users.String("light")},
	}, auth.ContextClient)
	require.NoError(t, err)

	// Server context may write everything.
	err = f.manager.UpdateMetadata(ctx, testUserID, auth.PartitionedPatch{
		ClientReadOnly: users.Metadata{"plan": users.String("enterprise")},
		Server:         users.Metadata{"internal": users.Bool(true)},
	}, auth.ContextServer)
	require.NoError(t, err)

	user, err = f.userRepo.GetByID(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, user.ClientMetadata["theme"].Equal(users.String("light")))
	require.True(t, user.ClientReadOnlyMetadata["plan"].Equal(users.String("enterprise")))
	require.True(t, user.ServerMetadata["internal"].Equal(users.Bool(true)))
}

func TestEventsPublished(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := f.manager.Subscribe(ctx)

	pair, err := f.manager.Login(ctx, testUserID)
	require.NoError(t, err)

	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.manager.SignOut(ctx, pair.SessionID))

	expected := []auth.EventKind{auth.EventSignedIn, auth.EventRefreshed, auth.EventSignedOut}
	for _, kind := range expected {
		select {
		case ev := <-events:
			require.Equal(t, kind, ev.Kind)
			require.Equal(t, testUserID, ev.UserID)
			require.Equal(t, pair.SessionID, ev.SessionID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	f := setupTestFixture(t)
	f.createTestUser(t)

	ctx, cancel := context.WithCancel(context.Background())
	events := f.manager.Subscribe(ctx)
	cancel()

	// The channel is closed once the subscription context ends.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}
