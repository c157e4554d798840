package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/token"
	"github.com/awesome-pro/stack/token/keys"
)

const (
	secretStr     = "test-signing-secret-1234"
	issuer        = "com.testissuer"
	audience      = "api"
	testUserID    = "user-1"
	testSessionID = "session-1"
	testRefreshID = "refresh-1"
)

func newTestCodec(t *testing.T, now func() time.Time, options ...token.CodecOption) *token.Codec {
	t.Helper()

	opts := append([]token.CodecOption{
		token.WithIssuer(issuer),
		token.WithAudience(audience),
		token.WithNowFunc(now),
	}, options...)

	codec, err := token.NewCodec(token.NewKeyring(token.NewHMACSigner(secretStr)), opts...)
	require.NoError(t, err)
	return codec
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, func() time.Time { return now })

	raw, err := codec.Issue(token.Claims{
		UserID:    testUserID,
		SessionID: testSessionID,
	}, token.KindAccess, 5*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := codec.Verify(raw, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, testUserID, claims.UserID)
	require.Equal(t, testSessionID, claims.SessionID)
	require.Equal(t, token.KindAccess, claims.Kind)
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, now.Add(5*time.Minute), claims.ExpiresAt, time.Second)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Now()
	current := now
	codec := newTestCodec(t, func() time.Time { return current })

	raw, err := codec.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Minute)
	require.NoError(t, err)

	// Still valid just before expiry.
	current = now.Add(59 * time.Second)
	_, err = codec.Verify(raw, token.KindAccess)
	require.NoError(t, err)

	// Inside the leeway window the token is still accepted.
	current = now.Add(time.Minute + 10*time.Second)
	_, err = codec.Verify(raw, token.KindAccess)
	require.NoError(t, err)

	// Beyond expiry plus leeway it fails with the expiry kind.
	current = now.Add(2 * time.Minute)
	_, err = codec.Verify(raw, token.KindAccess)
	require.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestVerifyKindMismatch(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	raw, err := codec.Issue(token.Claims{
		UserID:    testUserID,
		SessionID: testSessionID,
		RefreshID: testRefreshID,
	}, token.KindRefresh, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(raw, token.KindAccess)
	require.ErrorIs(t, err, token.ErrTokenKindMismatch)

	claims, err := codec.Verify(raw, token.KindRefresh)
	require.NoError(t, err)
	require.Equal(t, testRefreshID, claims.RefreshID)
}

func TestVerifyTamperedSignature(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	raw, err := codec.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = codec.Verify(tampered, token.KindAccess)
	require.ErrorIs(t, err, token.ErrTokenInvalidSignature)
}

func TestVerifyWrongKey(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	other, err := token.NewCodec(token.NewKeyring(token.NewHMACSigner("a-different-secret")))
	require.NoError(t, err)

	raw, err := other.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(raw, token.KindAccess)
	require.ErrorIs(t, err, token.ErrTokenInvalidSignature)
}

func TestVerifyMalformed(t *testing.T) {
	codec := newTestCodec(t, time.Now)

	for _, raw := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := codec.Verify(raw, token.KindAccess)
		require.ErrorIs(t, err, token.ErrTokenMalformed, "input %q", raw)
	}
}

func TestKeyRotationOverlap(t *testing.T) {
	oldSigner := token.NewHMACSigner("old-secret")
	newSigner := token.NewHMACSigner("new-secret")

	oldCodec, err := token.NewCodec(token.NewKeyring(oldSigner))
	require.NoError(t, err)

	raw, err := oldCodec.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Hour)
	require.NoError(t, err)

	// During the overlap window both old and new signatures verify,
	// while new tokens are signed with the new key.
	rotating, err := token.NewCodec(token.NewRotatingKeyring(newSigner, oldSigner))
	require.NoError(t, err)

	_, err = rotating.Verify(raw, token.KindAccess)
	require.NoError(t, err)

	fresh, err := rotating.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Hour)
	require.NoError(t, err)

	newOnly, err := token.NewCodec(token.NewKeyring(newSigner))
	require.NoError(t, err)
	_, err = newOnly.Verify(fresh, token.KindAccess)
	require.NoError(t, err)
	_, err = newOnly.Verify(raw, token.KindAccess)
	require.ErrorIs(t, err, token.ErrTokenInvalidSignature)
}

func TestKeyPairSigner(t *testing.T) {
	keyPair, err := keys.GenerateRSAKeyPair("key-1", 2048)
	require.NoError(t, err)

	codec, err := token.NewCodec(token.NewKeyring(token.NewKeyPairSigner(keyPair)))
	require.NoError(t, err)

	raw, err := codec.Issue(token.Claims{UserID: testUserID}, token.KindAccess, time.Minute)
	require.NoError(t, err)

	claims, err := codec.Verify(raw, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, testUserID, claims.UserID)
}
