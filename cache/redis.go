package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/agentuity/tiercache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Hash fields of a stored record.
const (
	fieldPayload    = "v"
	fieldCompressed = "c"
	fieldChecksum   = "x"
)

const clearBatchSize = 256

// RedisTier is a durable tier backed by Redis. Each key is a hash holding
// the payload, its compression flag and checksum, with a native Redis TTL.
//
// The client is created and pinged on first use rather than at construction.
// Every operation, retries included, is bounded by the query timeout, and a
// circuit breaker fails operations fast while Redis is known to be down.
type RedisTier struct {
	options *redis.Options
	cfg     config
	breaker *resilience.CircuitBreaker

	mu     sync.Mutex
	client *redis.Client
	closed bool
}

var _ Tier = (*RedisTier)(nil)

// NewRedisTier returns a RedisTier for options. No connection is made until
// the first operation.
func NewRedisTier(options *redis.Options, opts ...Option) *RedisTier {
	cfg := applyOptions(opts)
	o := *options
	// Retries happen here, under the breaker, not inside the client.
	o.MaxRetries = -1
	o.ContextTimeoutEnabled = true
	if o.DialTimeout == 0 || o.DialTimeout > cfg.queryTimeout {
		o.DialTimeout = cfg.queryTimeout
	}
	return &RedisTier{
		options: &o,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.breaker),
	}
}

func (c *RedisTier) Name() string { return "redis" }

// Breaker exposes the circuit breaker state for diagnostics.
func (c *RedisTier) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func (c *RedisTier) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

// connect returns the shared client, creating and pinging one if needed.
// The ping runs without c.mu held so each caller waits only on its own ctx;
// when two callers connect at once the first to finish wins.
func (c *RedisTier) connect(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	closed, existing := c.closed, c.client
	c.mu.Unlock()
	if closed {
		return nil, errors.New("redis tier closed")
	}
	if existing != nil {
		return existing, nil
	}

	client := redis.NewClient(c.options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to %s", c.options.Addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		client.Close()
		return nil, errors.New("redis tier closed")
	}
	if c.client != nil {
		client.Close()
		return c.client, nil
	}
	c.client = client
	return client, nil
}

// do runs fn against a connected client under the query timeout, the retry
// policy and the circuit breaker.
func (c *RedisTier) do(ctx context.Context, op string, fn func(ctx context.Context, client *redis.Client) error) error {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.queryTimeout)
	defer cancel()
	err := resilience.Retry(qctx, c.cfg.retry, func() error {
		return c.breaker.Execute(qctx, func(ctx context.Context) error {
			client, err := c.connect(ctx)
			if err != nil {
				return err
			}
			return fn(ctx, client)
		})
	})
	if err != nil {
		return unavailable(err, "redis %s", op)
	}
	return nil
}

func (c *RedisTier) Get(ctx context.Context, key string) (Record, bool, error) {
	var fields map[string]string
	err := c.do(ctx, "get", func(ctx context.Context, client *redis.Client) error {
		var err error
		fields, err = client.HGetAll(ctx, c.prefixKey(key)).Result()
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec, err := parseRecordFields(fields)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func parseRecordFields(fields map[string]string) (Record, error) {
	payload, ok := fields[fieldPayload]
	if !ok {
		return Record{}, corrupt("cache: record missing payload field")
	}
	var compressed bool
	switch fields[fieldCompressed] {
	case "1":
		compressed = true
	case "0":
	default:
		return Record{}, corrupt("cache: record has invalid compression flag %q", fields[fieldCompressed])
	}
	checksum, err := strconv.ParseUint(fields[fieldChecksum], 10, 64)
	if err != nil {
		return Record{}, corrupt("cache: record has invalid checksum %q", fields[fieldChecksum])
	}
	return Record{
		Payload:    []byte(payload),
		Compressed: compressed,
		Checksum:   checksum,
	}, nil
}

func (c *RedisTier) Set(ctx context.Context, key string, rec Record, ttlHours int) error {
	ttl, err := ttlFromHours(ttlHours)
	if err != nil {
		return err
	}
	flag := "0"
	if rec.Compressed {
		flag = "1"
	}
	k := c.prefixKey(key)
	return c.do(ctx, "set", func(ctx context.Context, client *redis.Client) error {
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k,
				fieldPayload, rec.Payload,
				fieldCompressed, flag,
				fieldChecksum, strconv.FormatUint(rec.Checksum, 10),
			)
			pipe.Expire(ctx, k, ttl)
			return nil
		})
		return err
	})
}

func (c *RedisTier) Delete(ctx context.Context, key string) error {
	return c.do(ctx, "delete", func(ctx context.Context, client *redis.Client) error {
		return client.Del(ctx, c.prefixKey(key)).Err()
	})
}

// Clear deletes every key under the prefix. Without a prefix the whole
// database is flushed.
func (c *RedisTier) Clear(ctx context.Context) error {
	return c.do(ctx, "clear", func(ctx context.Context, client *redis.Client) error {
		if c.cfg.prefix == "" {
			return client.FlushDB(ctx).Err()
		}
		iter := client.Scan(ctx, 0, c.cfg.prefix+":*", clearBatchSize).Iterator()
		keys := make([]string, 0, clearBatchSize)
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) == clearBatchSize {
				if err := client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			return client.Del(ctx, keys...).Err()
		}
		return nil
	})
}

func (c *RedisTier) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	})
}

// Close closes the client if one was created. Later operations fail as unavailable.
func (c *RedisTier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
