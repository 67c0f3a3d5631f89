package cache

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/agentuity/tiercache/compress"
	"github.com/agentuity/tiercache/logger"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Facade coordinates the memory tier and a durable tier behind Get, Set and
// Purge. It is safe for concurrent use and meant to be created once per
// process.
//
// Lookups check memory first, then the durable tier, copying durable hits
// into memory. Writes go to memory, then through the codec to the durable
// tier. Durable tier failures are logged and contained: the only error a
// caller ever sees is ErrSerialization from Set.
type Facade struct {
	memory  *MemoryTier
	durable Tier
	codec   *compress.Codec
	log     logger.Logger
	cfg     config
	metrics *instruments
	stats   counters
}

type counters struct {
	memoryHits  atomic.Uint64
	durableHits atomic.Uint64
	misses      atomic.Uint64
	promotions  atomic.Uint64
	degraded    atomic.Uint64
	corrupt     atomic.Uint64
	writes      atomic.Uint64
}

// Stats is a snapshot of the Facade's counters.
type Stats struct {
	MemoryHits    uint64
	DurableHits   uint64
	Misses        uint64
	Promotions    uint64
	Degraded      uint64
	Corrupt       uint64
	DurableWrites uint64
	MemoryEntries int
	DurableTier   string
}

// New returns a Facade over memory and durable. A nil memory tier is
// replaced by a disabled one, a nil durable tier by NullTier and a nil codec
// by one using compress.DefaultThreshold. Close closes all three.
func New(log logger.Logger, memory *MemoryTier, durable Tier, codec *compress.Codec, opts ...Option) *Facade {
	cfg := applyOptions(opts)
	if cfg.defaultTTLHours <= 0 {
		cfg.defaultTTLHours = DefaultTTLHours
	}
	if memory == nil {
		memory = NewMemoryTier(context.Background(), WithMemoryEnabled(false))
	}
	if durable == nil {
		durable = NullTier{}
	}
	if codec == nil {
		c, err := compress.NewCodec(compress.DefaultThreshold)
		if err != nil {
			panic(err)
		}
		codec = c
	}
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	return &Facade{
		memory:  memory,
		durable: durable,
		codec:   codec,
		log:     log.WithPrefix("[cache]"),
		cfg:     cfg,
		metrics: newInstruments(),
	}
}

// Durable returns the name of the durable tier in use.
func (f *Facade) Durable() string {
	return f.durable.Name()
}

// Get returns the value cached for key. Values read back from the durable
// tier are decoded generically (maps, slices, int64, float64, string...);
// use the package-level Get for a typed result.
func (f *Facade) Get(ctx context.Context, key string) (bool, any) {
	return f.get(ctx, key, decodeAny)
}

type decodeFunc func(data []byte) (any, error)

func decodeAny(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f *Facade) get(ctx context.Context, key string, decode decodeFunc) (bool, any) {
	ctx, span := tracer.Start(ctx, "cache.Get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if val, ok := f.memory.Get(key); ok {
		f.stats.memoryHits.Add(1)
		f.metrics.lookup(ctx, "memory", resultHit)
		span.SetAttributes(attribute.String("cache.tier", "memory"), attribute.Bool("cache.hit", true))
		f.log.Trace("memory hit for %s", key)
		return true, val
	}

	tier := f.durable.Name()
	rec, found, err := f.durable.Get(ctx, key)
	if err != nil {
		f.contain(ctx, span, "get", key, err)
		return f.miss(ctx, span, key)
	}
	if !found {
		return f.miss(ctx, span, key)
	}
	val, err := f.decodeRecord(rec, decode)
	if err != nil {
		// the record is left for the store's own expiry to reclaim
		f.contain(ctx, span, "decode", key, err)
		return f.miss(ctx, span, key)
	}

	f.memory.Set(key, val)
	f.stats.durableHits.Add(1)
	f.metrics.lookup(ctx, tier, resultHit)
	if f.memory.Enabled() {
		f.stats.promotions.Add(1)
		f.metrics.promotions.Add(ctx, 1)
		f.log.Debug("promoted %s from %s tier", key, tier)
	}
	span.SetAttributes(attribute.String("cache.tier", tier), attribute.Bool("cache.hit", true))
	return true, val
}

func (f *Facade) miss(ctx context.Context, span trace.Span, key string) (bool, any) {
	f.stats.misses.Add(1)
	f.metrics.lookup(ctx, "all", resultMiss)
	span.SetAttributes(attribute.Bool("cache.hit", false))
	f.log.Trace("miss for %s", key)
	return false, nil
}

func (f *Facade) decodeRecord(rec Record, decode decodeFunc) (any, error) {
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	data, err := f.codec.Decode(rec.Payload, rec.Compressed)
	if err != nil {
		return nil, err
	}
	val, err := decode(data)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "cache: deserializing record"), ErrSerialization)
	}
	return val, nil
}

// contain logs and counts a durable tier failure that the caller will not see.
func (f *Facade) contain(ctx context.Context, span trace.Span, op, key string, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrCorruptPayload):
		reason = "corrupt"
		f.stats.corrupt.Add(1)
	case errors.Is(err, ErrTierUnavailable):
		reason = "unavailable"
	case errors.Is(err, ErrSerialization):
		reason = "deserialize"
	case errors.Is(err, ErrInvalidTTL):
		reason = "ttl"
	}
	tier := f.durable.Name()
	f.stats.degraded.Add(1)
	f.metrics.degrade(ctx, tier, op, reason)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("cache.degraded", true))
	f.log.Warn("%s tier %s for %s failed (%s), continuing without it: %v", tier, op, key, reason, err)
}

// Set caches value under key. The memory tier keeps it for its own fixed
// TTL; the durable tier keeps it for ttlHours, with a non-positive ttlHours
// replaced by the configured default and one above MaxTTLHours capped.
//
// The memory tier keeps value itself, not a copy, while the durable tier
// keeps the bytes serialized here. Mutating a slice, map or pointer after
// Set changes what later memory hits return but not the durable copy.
//
// If value cannot be serialized, Set returns an error marked
// ErrSerialization and neither tier is written. Durable tier failures are
// logged and otherwise ignored.
func (f *Facade) Set(ctx context.Context, key string, value any, ttlHours int) error {
	ctx, span := tracer.Start(ctx, "cache.Set", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int("cache.ttl_hours", ttlHours),
	))
	defer span.End()

	data, err := msgpack.Marshal(value)
	if err != nil {
		err = errors.Mark(errors.Wrapf(err, "cache: serializing value for %s", key), ErrSerialization)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if ttlHours <= 0 {
		f.log.Debug("ttl of %d hours for %s replaced by %d", ttlHours, key, f.cfg.defaultTTLHours)
		ttlHours = f.cfg.defaultTTLHours
	}

	f.memory.Set(key, value)

	payload, compressed, err := f.codec.Encode(data)
	if err != nil {
		f.contain(ctx, span, "encode", key, err)
		return nil
	}
	if compressed {
		f.log.Debug("compressed %s from %d to %d bytes", key, len(data), len(payload))
	}
	span.SetAttributes(attribute.Bool("cache.compressed", compressed))
	if err := f.durable.Set(ctx, key, NewRecord(payload, compressed), ttlHours); err != nil {
		f.contain(ctx, span, "set", key, err)
		return nil
	}
	f.stats.writes.Add(1)
	f.metrics.write(ctx, f.durable.Name(), compressed)
	return nil
}

// Purge removes key from both tiers. Each removal is independent; a durable
// tier failure is logged.
func (f *Facade) Purge(ctx context.Context, key string) {
	ctx, span := tracer.Start(ctx, "cache.Purge", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	f.memory.Delete(key)
	if err := f.durable.Delete(ctx, key); err != nil {
		f.contain(ctx, span, "delete", key, err)
	}
}

// PurgeAll empties both tiers concurrently. A durable tier failure is logged.
func (f *Facade) PurgeAll(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "cache.PurgeAll")
	defer span.End()

	var g errgroup.Group
	g.Go(func() error {
		n := f.memory.Clear()
		f.log.Debug("cleared %d memory entries", n)
		return nil
	})
	g.Go(func() error {
		if err := f.durable.Clear(ctx); err != nil {
			f.contain(ctx, span, "clear", "*", err)
		}
		return nil
	})
	_ = g.Wait()
}

// Ping reports whether the durable tier is reachable. It is a diagnostic;
// the cache operations never depend on it.
func (f *Facade) Ping(ctx context.Context) error {
	return f.durable.Ping(ctx)
}

// Stats returns a snapshot of the hit, miss and degradation counters.
func (f *Facade) Stats() Stats {
	return Stats{
		MemoryHits:    f.stats.memoryHits.Load(),
		DurableHits:   f.stats.durableHits.Load(),
		Misses:        f.stats.misses.Load(),
		Promotions:    f.stats.promotions.Load(),
		Degraded:      f.stats.degraded.Load(),
		Corrupt:       f.stats.corrupt.Load(),
		DurableWrites: f.stats.writes.Load(),
		MemoryEntries: f.memory.Len(),
		DurableTier:   f.durable.Name(),
	}
}

// Close stops the memory sweep, closes the durable tier and releases the codec.
func (f *Facade) Close() error {
	var g errgroup.Group
	g.Go(f.memory.Close)
	g.Go(f.durable.Close)
	err := g.Wait()
	f.codec.Close()
	return err
}
