package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteTier(t *testing.T, path string, clock *testClock, opts ...Option) *SQLiteTier {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithExpiryCheck(0)}, opts...)
	tier, err := NewSQLiteTier(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tier.Close() })
	return tier
}

func countRows(t *testing.T, tier *SQLiteTier) int {
	t.Helper()
	var n int
	require.NoError(t, tier.db.QueryRow(`SELECT COUNT(*) FROM tiercache`).Scan(&n))
	return n
}

func TestSQLiteTierSetGet(t *testing.T) {
	tier := newTestSQLiteTier(t, "", newTestClock())
	ctx := context.Background()

	_, found, err := tier.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)

	want := NewRecord([]byte("hello"), true)
	assert.NoError(t, tier.Set(ctx, "key", want, 1))

	rec, found, err := tier.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, rec)

	replaced := NewRecord([]byte("world"), false)
	assert.NoError(t, tier.Set(ctx, "key", replaced, 1))
	rec, found, err = tier.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, replaced, rec)
	assert.Equal(t, 1, countRows(t, tier))
}

func TestSQLiteTierExpiry(t *testing.T) {
	clock := newTestClock()
	tier := newTestSQLiteTier(t, "", clock)
	ctx := context.Background()

	assert.NoError(t, tier.Set(ctx, "short", NewRecord([]byte("v"), false), 1))
	assert.NoError(t, tier.Set(ctx, "long", NewRecord([]byte("v"), false), 3))

	clock.Advance(time.Hour + time.Second)
	_, found, err := tier.Get(ctx, "short")
	assert.NoError(t, err)
	assert.False(t, found)
	_, found, err = tier.Get(ctx, "long")
	assert.NoError(t, err)
	assert.True(t, found)

	purged, err := tier.PurgeExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 1, countRows(t, tier))
}

func TestSQLiteTierBackgroundPurge(t *testing.T) {
	clock := newTestClock()
	tier := newTestSQLiteTier(t, "", clock, WithExpiryCheck(10*time.Millisecond))
	ctx := context.Background()

	assert.NoError(t, tier.Set(ctx, "key", NewRecord([]byte("v"), false), 1))
	clock.Advance(2 * time.Hour)
	assert.Eventually(t, func() bool {
		var n int
		err := tier.db.QueryRow(`SELECT COUNT(*) FROM tiercache`).Scan(&n)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSQLiteTierInvalidTTL(t *testing.T) {
	tier := newTestSQLiteTier(t, "", newTestClock())
	err := tier.Set(context.Background(), "key", NewRecord([]byte("v"), false), 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	assert.Equal(t, 0, countRows(t, tier))
}

func TestSQLiteTierCapsTTL(t *testing.T) {
	clock := newTestClock()
	tier := newTestSQLiteTier(t, "", clock)
	ctx := context.Background()

	assert.NoError(t, tier.Set(ctx, "key", NewRecord([]byte("v"), false), 3_000_000))
	var expiresAt int64
	require.NoError(t, tier.db.QueryRow(`SELECT expires_at FROM tiercache WHERE key = ?`, "key").Scan(&expiresAt))
	assert.Equal(t, clock.Now().Add(time.Duration(MaxTTLHours)*time.Hour).UnixNano(), expiresAt)

	_, found, err := tier.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestSQLiteTierDeleteAndClear(t *testing.T) {
	tier := newTestSQLiteTier(t, "", newTestClock())
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		assert.NoError(t, tier.Set(ctx, key, NewRecord([]byte(key), false), 1))
	}
	assert.NoError(t, tier.Delete(ctx, "a"))
	assert.NoError(t, tier.Delete(ctx, "missing"))
	assert.Equal(t, 2, countRows(t, tier))

	assert.NoError(t, tier.Clear(ctx))
	assert.Equal(t, 0, countRows(t, tier))
	assert.NoError(t, tier.Ping(ctx))
}

func TestSQLiteTierPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	clock := newTestClock()
	ctx := context.Background()

	tier, err := NewSQLiteTier(ctx, path, WithClock(clock.Now))
	require.NoError(t, err)
	assert.NoError(t, tier.Set(ctx, "key", NewRecord([]byte("kept"), false), 1))
	assert.NoError(t, tier.Close())
	assert.NoError(t, tier.Close())

	reopened := newTestSQLiteTier(t, path, clock)
	rec, found, err := reopened.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("kept"), rec.Payload)
}

func TestSQLiteTierClosed(t *testing.T) {
	tier, err := NewSQLiteTier(context.Background(), "", WithExpiryCheck(0))
	require.NoError(t, err)
	require.NoError(t, tier.Close())

	_, _, err = tier.Get(context.Background(), "key")
	assert.ErrorIs(t, err, ErrTierUnavailable)
}

func TestSQLiteTierBadPath(t *testing.T) {
	_, err := NewSQLiteTier(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "cache.db"))
	assert.Error(t, err)
}
