package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore_Create(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStoreWithClock(fixedClock(now))

	sess, err := store.Create([]string{"bsky", "git"}, 30*time.Minute)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.Token)
	assert.GreaterOrEqual(t, len(sess.Token), 43, "token must carry at least 256 random bits")
	assert.Equal(t, []string{"bsky", "git"}, sess.Services)
	assert.Equal(t, now, sess.CreatedAt)
	assert.Equal(t, now.Add(30*time.Minute), sess.ExpiresAt)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))
}

func TestStore_Create_InvalidTTL(t *testing.T) {
	store := NewStore()

	_, err := store.Create([]string{"bsky"}, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = store.Create([]string{"bsky"}, -time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestStore_Create_TokensUnique(t *testing.T) {
	store := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := store.Create([]string{"bsky"}, time.Minute)
		require.NoError(t, err)
		assert.False(t, seen[sess.Token], "duplicate token minted")
		seen[sess.Token] = true
	}
}

func TestStore_Validate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	store := NewStoreWithClock(func() time.Time { return current })

	sess, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)

	// Granted service validates.
	got, err := store.Validate(sess.Token, "bsky")
	require.NoError(t, err)
	assert.Equal(t, sess.Token, got.Token)

	// Service outside the grant set is refused.
	_, err = store.Validate(sess.Token, "github")
	assert.ErrorIs(t, err, ErrServiceNotGranted)

	// Unknown token.
	_, err = store.Validate("no-such-token", "bsky")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Validate_ExpiryRemovesEntry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	store := NewStoreWithClock(func() time.Time { return current })

	sess, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)

	// 61 seconds later the session is expired...
	current = now.Add(61 * time.Second)
	_, err = store.Validate(sess.Token, "bsky")
	assert.ErrorIs(t, err, ErrExpired)

	// ...and the entry is gone, so a second check sees not-found.
	_, err = store.Validate(sess.Token, "bsky")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Validate_ExactExpiryInstant(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	store := NewStoreWithClock(func() time.Time { return current })

	sess, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)

	// now == expires_at is already expired (valid iff now < expires_at).
	current = now.Add(time.Minute)
	_, err = store.Validate(sess.Token, "bsky")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestStore_Revoke_Idempotent(t *testing.T) {
	store := NewStore()

	sess, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)

	store.Revoke(sess.Token)
	_, err = store.Validate(sess.Token, "bsky")
	assert.ErrorIs(t, err, ErrNotFound)

	// Second revoke of the same token and revoke of garbage both succeed.
	store.Revoke(sess.Token)
	store.Revoke("never-existed")
}

func TestStore_ActiveCount(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	store := NewStoreWithClock(func() time.Time { return current })

	_, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)
	_, err = store.Create([]string{"git"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, store.ActiveCount())

	current = now.Add(5 * time.Minute)
	assert.Equal(t, 1, store.ActiveCount())
}

func TestStore_Cleanup(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	store := NewStoreWithClock(func() time.Time { return current })

	short, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)
	long, err := store.Create([]string{"git"}, time.Hour)
	require.NoError(t, err)

	current = now.Add(10 * time.Minute)
	assert.Equal(t, 1, store.Cleanup())

	_, err = store.Validate(short.Token, "bsky")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Validate(long.Token, "git")
	assert.NoError(t, err)
}

func TestStore_ReturnedSessionIsCopy(t *testing.T) {
	store := NewStore()

	sess, err := store.Create([]string{"bsky"}, time.Minute)
	require.NoError(t, err)

	// Mutating the caller's copy must not affect the store.
	sess.Services[0] = "github"
	_, err = store.Validate(sess.Token, "bsky")
	assert.NoError(t, err)
	_, err = store.Validate(sess.Token, "github")
	assert.ErrorIs(t, err, ErrServiceNotGranted)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore()

	sess, err := store.Create([]string{"bsky"}, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := store.Validate(sess.Token, "bsky")
				if err != nil && err != ErrNotFound {
					t.Errorf("unexpected validate error: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := store.Create([]string{"bsky"}, time.Minute); err != nil {
					t.Errorf("unexpected create error: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Revoke(sess.Token)
			}
		}()
	}
	wg.Wait()

	// After a completed revoke, no validation may observe the session.
	store.Revoke(sess.Token)
	_, err = store.Validate(sess.Token, "bsky")
	assert.ErrorIs(t, err, ErrNotFound)
}
