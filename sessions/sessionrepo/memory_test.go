package sessionrepo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/sessions"
	"github.com/awesome-pro/stack/sessions/sessionrepo"
)

func TestMemoryCreateAndGet(t *testing.T) {
	store := sessionrepo.NewMemory()
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.NotEmpty(t, session.RefreshID)
	require.Equal(t, "user-1", session.UserID)
	require.False(t, session.Revoked)

	got, err := store.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.RefreshID, got.RefreshID)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestMemoryCompareAndRotate(t *testing.T) {
	store := sessionrepo.NewMemory()
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	next := uuid.New().String()
	ok, err := store.CompareAndRotate(ctx, session.ID, session.RefreshID, next)
	require.NoError(t, err)
	require.True(t, ok)

	// The old identifier no longer rotates.
	ok, err = store.CompareAndRotate(ctx, session.ID, session.RefreshID, uuid.New().String())
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, next, got.RefreshID)
}

func TestMemoryCompareAndRotateConcurrent(t *testing.T) {
	store := sessionrepo.NewMemory()
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := uuid.New().String()
			ok, err := store.CompareAndRotate(ctx, session.ID, session.RefreshID, next)
			require.NoError(t, err)
			if ok {
				wins <- next
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one concurrent rotation may win")

	got, err := store.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, winners[0], got.RefreshID)
}

func TestMemoryRevokeBlocksRotation(t *testing.T) {
	store := sessionrepo.NewMemory()
	ctx := context.Background()

	session, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, session.ID))
	require.ErrorIs(t, store.Revoke(ctx, "missing"), sessions.ErrSessionNotFound)

	ok, err := store.CompareAndRotate(ctx, session.ID, session.RefreshID, uuid.New().String())
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)
}
