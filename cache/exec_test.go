package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/agentuity/tiercache/logger"
	"github.com/stretchr/testify/assert"
)

func newMemoryFacade(t *testing.T) *Facade {
	t.Helper()
	f := New(logger.NewTestLogger(), NewMemoryTier(context.Background(), WithExpiryCheck(0)), nil, nil)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExecCacheMiss(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFacade(t)

	invoked := false
	found, val, err := Exec(ctx, f, ExecConfig{Key: "key", TTLHours: 1}, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh-value", val)
	assert.True(t, invoked)

	cachedFound, cached := Get[string](ctx, f, "key")
	assert.True(t, cachedFound)
	assert.Equal(t, "fresh-value", cached)
}

func TestExecCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFacade(t)

	assert.NoError(t, f.Set(ctx, "key", "cached-value", 1))

	invoked := false
	found, val, err := Exec(ctx, f, ExecConfig{Key: "key"}, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached-value", val)
	assert.False(t, invoked)
}

func TestExecInvokerError(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFacade(t)

	expectedErr := fmt.Errorf("invoke failed")
	found, val, err := Exec(ctx, f, ExecConfig{Key: "key"}, func(ctx context.Context) (string, bool, error) {
		return "", false, expectedErr
	})
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, found)
	assert.Equal(t, "", val)

	ok, _ := f.Get(ctx, "key")
	assert.False(t, ok)
}

func TestExecNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFacade(t)

	calls := 0
	invoke := func(ctx context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	}
	for i := 0; i < 2; i++ {
		found, val, err := Exec(ctx, f, ExecConfig{Key: "key"}, invoke)
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, 0, val)
	}
	assert.Equal(t, 2, calls)
}

func TestExecZeroValueIsCached(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFacade(t)

	found, val, err := Exec(ctx, f, ExecConfig{Key: "key"}, func(ctx context.Context) (int, bool, error) {
		return 0, true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0, val)

	ok, cached := Get[int](ctx, f, "key")
	assert.True(t, ok)
	assert.Equal(t, 0, cached)
}

func TestExecUnserializableResult(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	f := New(log, NewMemoryTier(context.Background(), WithExpiryCheck(0)), nil, nil)
	defer f.Close()

	found, val, err := Exec(ctx, f, ExecConfig{Key: "key"}, func(ctx context.Context) (chan int, bool, error) {
		return make(chan int), true, nil
	})
	assert.NoError(t, err, "a failure to cache is not a failure to produce")
	assert.True(t, found)
	assert.NotNil(t, val)
	assert.Equal(t, 1, log.Count("ERROR", "unable to cache key"))

	ok, _ := f.Get(ctx, "key")
	assert.False(t, ok)
}
