package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move the breaker past its open timeout without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(config CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(config)
	cb.now = clock.Now
	return cb, clock
}

func failing(context.Context) error { return errors.New("test error") }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, "CLOSED", cb.State().String())
}

func TestCircuitBreaker_SuccessfulExecution(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailuresLeadToOpen(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Second, SuccessThreshold: 2})

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(context.Background(), failing))
		if i < 2 {
			assert.Equal(t, StateClosed, cb.State())
		}
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("function should not be called when circuit is open")
		return nil
	})
	assert.True(t, errors.Is(err, ErrCircuitBreakerOpen))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Second})
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, 2, cb.Failures())
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Second, SuccessThreshold: 2})
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(500 * time.Millisecond)
	assert.True(t, errors.Is(cb.Execute(context.Background(), succeeding), ErrCircuitBreakerOpen))

	clock.now = clock.now.Add(time.Second)
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, SuccessThreshold: 2})
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(2 * time.Second)
	assert.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, errors.Is(cb.Execute(context.Background(), succeeding), ErrCircuitBreakerOpen))
}

func TestCircuitBreaker_RequestTimeout(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, RequestTimeout: 10 * time.Millisecond})
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, ErrCircuitBreakerTimeout))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CallerCancelIsNotFailure(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_MaxConcurrentRequests(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, MaxConcurrentRequests: 1, SuccessThreshold: 1})
	_ = cb.Execute(context.Background(), failing)
	clock.now = clock.now.Add(2 * time.Second)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing
	assert.True(t, errors.Is(cb.Execute(context.Background(), succeeding), ErrCircuitBreakerOpen))
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute})
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)

	stats := cb.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, 2, stats.Failures)

	cb.Reset()
	stats = cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 0, stats.Failures)
	assert.NoError(t, cb.Execute(context.Background(), succeeding))
}
