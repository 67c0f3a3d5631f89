package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig controls how Retry backs off between attempts.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry
	BackoffMultiplier float64

	// Jitter spreads each delay by up to ±10%
	Jitter bool

	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a configuration suited to short network calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    25 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries everything except circuit breaker
// rejections and context cancellation or expiry.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrCircuitBreakerTimeout) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// retries are exhausted or ctx is done. The last error from fn is returned.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= config.MaxRetries || !retryable(err) {
			return err
		}
		timer := time.NewTimer(calculateBackoff(attempt, config))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithSecondaryError(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// RetryWithCircuitBreaker runs fn through cb on every attempt. An open
// circuit stops the loop immediately.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, func(context.Context) error {
			return fn()
		})
	})
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= config.BackoffMultiplier
	}
	if limit := float64(config.MaxBackoff); limit > 0 && backoff > limit {
		backoff = limit
	}
	if config.Jitter {
		backoff += backoff * 0.1 * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}
