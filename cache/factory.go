package cache

import (
	"context"

	"github.com/agentuity/tiercache/compress"
	tierconfig "github.com/agentuity/tiercache/config"
	"github.com/agentuity/tiercache/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// FromConfig builds a Facade from cfg: a memory tier, the durable tier cfg
// selects and a codec with cfg's compression threshold. The Redis tier
// connects lazily, so an unreachable server does not fail construction. A
// SQLite file that cannot be opened is logged and replaced by NullTier.
func FromConfig(ctx context.Context, cfg tierconfig.TierConfig, log logger.Logger) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := compress.NewCodec(cfg.CompressionThreshold)
	if err != nil {
		return nil, err
	}
	durable, err := newDurableTier(ctx, cfg, log)
	if err != nil {
		codec.Close()
		return nil, err
	}
	memory := NewMemoryTier(ctx,
		WithMemoryEnabled(cfg.MemoryEnabled),
		WithMemoryTTL(cfg.MemoryTTL),
		WithExpiryCheck(cfg.SweepInterval),
	)
	log.Debug("cache tiers: memory enabled=%v ttl=%s, durable=%s", cfg.MemoryEnabled, cfg.MemoryTTL, durable.Name())
	return New(log, memory, durable, codec, WithDefaultTTLHours(cfg.DefaultTTLHours)), nil
}

func newDurableTier(ctx context.Context, cfg tierconfig.TierConfig, log logger.Logger) (Tier, error) {
	switch cfg.Durable() {
	case tierconfig.DurableRedis:
		return NewRedisTierFromConfig(cfg.Redis)
	case tierconfig.DurableSQLite:
		tier, err := NewSQLiteTier(ctx, cfg.SQLite.Path, WithExpiryCheck(cfg.SweepInterval))
		if err != nil {
			log.Warn("sqlite tier at %s unavailable, continuing with memory only: %v", cfg.SQLite.Path, err)
			return NullTier{}, nil
		}
		return tier, nil
	default:
		return NullTier{}, nil
	}
}

// NewRedisTierFromConfig returns a RedisTier for rc. A URL takes precedence
// over the discrete host settings.
func NewRedisTierFromConfig(rc tierconfig.RedisConfig) (*RedisTier, error) {
	options, err := redisOptions(rc)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithPrefix(rc.Prefix), WithMaxRetries(rc.MaxRetries)}
	if rc.Timeout > 0 {
		opts = append(opts, WithQueryTimeout(rc.Timeout))
	}
	return NewRedisTier(options, opts...), nil
}

func redisOptions(rc tierconfig.RedisConfig) (*redis.Options, error) {
	if rc.URL != "" {
		options, err := redis.ParseURL(rc.URL)
		if err != nil {
			return nil, errors.Wrap(err, "cache: parsing redis url")
		}
		return options, nil
	}
	return &redis.Options{
		Addr:     rc.Addr(),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	}, nil
}
