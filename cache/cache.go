package cache

import (
	"context"
	"time"

	"github.com/agentuity/tiercache/resilience"
	"github.com/cespare/xxhash/v2"
)

// Tier is a durable cache layer. Implementations must be safe for concurrent
// use. Errors are reported to the Facade, which logs them and degrades to a
// miss or a no-op; they never reach the Facade's callers.
type Tier interface {
	// Name identifies the tier in logs and telemetry.
	Name() string
	// Get returns the live record for key. A missing or expired key is
	// (Record{}, false, nil).
	Get(ctx context.Context, key string) (Record, bool, error)
	// Set stores rec under key for ttlHours hours. A ttlHours below one
	// fails with ErrInvalidTTL; one above MaxTTLHours is capped to it.
	Set(ctx context.Context, key string, rec Record, ttlHours int) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by this tier.
	Clear(ctx context.Context) error
	// Ping checks that the tier is reachable.
	Ping(ctx context.Context) error
	// Close releases the tier's resources.
	Close() error
}

// Record is a durable payload with its compression flag kept out-of-band.
// Checksum covers Payload exactly as stored.
type Record struct {
	Payload    []byte
	Compressed bool
	Checksum   uint64
}

// NewRecord returns a Record with its checksum filled in.
func NewRecord(payload []byte, compressed bool) Record {
	return Record{
		Payload:    payload,
		Compressed: compressed,
		Checksum:   xxhash.Sum64(payload),
	}
}

// Verify reports ErrCorruptPayload when the payload no longer matches its checksum.
func (r Record) Verify() error {
	if len(r.Payload) == 0 {
		return corrupt("cache: record has no payload")
	}
	if sum := xxhash.Sum64(r.Payload); sum != r.Checksum {
		return corrupt("cache: record checksum mismatch (%x != %x)", sum, r.Checksum)
	}
	return nil
}

func ttlFromHours(hours int) (time.Duration, error) {
	if hours <= 0 {
		return 0, ErrInvalidTTL
	}
	if hours > MaxTTLHours {
		hours = MaxTTLHours
	}
	return time.Duration(hours) * time.Hour, nil
}

const (
	// DefaultMemoryTTL is how long a memory entry lives.
	DefaultMemoryTTL = time.Hour

	// DefaultExpiryCheck is how often expired entries are swept.
	DefaultExpiryCheck = 30 * time.Minute

	// DefaultQueryTimeout bounds every durable tier operation, retries included.
	DefaultQueryTimeout = 2 * time.Second

	// DefaultTTLHours is the durable TTL used when a caller passes a non-positive one.
	DefaultTTLHours = 24

	// MaxTTLHours caps a durable TTL at 100 years so the expiry stays
	// representable as a time.Duration and as nanoseconds since the epoch.
	MaxTTLHours = 100 * 365 * 24
)

// config holds the resolved configuration for a tier or the facade.
type config struct {
	memoryEnabled   bool
	memoryTTL       time.Duration
	expiryCheck     time.Duration
	queryTimeout    time.Duration
	prefix          string
	defaultTTLHours int
	retry           resilience.RetryConfig
	breaker         resilience.CircuitBreakerConfig
	now             func() time.Time
}

// Option configures a tier or the Facade. Options that do not apply to the
// component they are passed to are ignored.
type Option func(*config)

func defaultConfig() config {
	return config{
		memoryEnabled:   true,
		memoryTTL:       DefaultMemoryTTL,
		expiryCheck:     DefaultExpiryCheck,
		queryTimeout:    DefaultQueryTimeout,
		defaultTTLHours: DefaultTTLHours,
		retry:           resilience.DefaultRetryConfig(),
		breaker: resilience.CircuitBreakerConfig{
			MaxFailures:           5,
			Timeout:               10 * time.Second,
			MaxConcurrentRequests: 1,
			SuccessThreshold:      1,
		},
		now: time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMemoryEnabled turns the memory tier on or off. A disabled memory tier
// stores nothing and always misses.
func WithMemoryEnabled(enabled bool) Option {
	return func(c *config) { c.memoryEnabled = enabled }
}

// WithMemoryTTL sets how long a memory entry stays readable. Defaults to DefaultMemoryTTL.
func WithMemoryTTL(d time.Duration) Option {
	return func(c *config) { c.memoryTTL = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to the memory and SQLite tiers. Defaults to DefaultExpiryCheck.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithQueryTimeout sets the per-operation timeout for durable tiers.
// Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the key prefix for namespacing cache keys in Redis.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithDefaultTTLHours sets the durable TTL the Facade substitutes for a
// non-positive one. Defaults to DefaultTTLHours.
func WithDefaultTTLHours(hours int) Option {
	return func(c *config) { c.defaultTTLHours = hours }
}

// WithMaxRetries sets how many times a failed durable operation is retried.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.retry.MaxRetries = n }
}

// WithRetry replaces the durable tier retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *config) { c.retry = rc }
}

// WithCircuitBreaker replaces the circuit breaker guarding the Redis tier.
func WithCircuitBreaker(cb resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cb }
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
