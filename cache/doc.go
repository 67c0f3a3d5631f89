// Package cache provides a two-tier cache: a process-local memory tier in
// front of an optional durable tier shared between processes.
//
// # Facade
//
// [Facade] is the only type most callers need. It offers three operations:
// [Facade.Get], [Facade.Set] and [Facade.Purge] (with [Facade.PurgeAll] for
// every key). A [Facade] is built once per process, usually with
// [FromConfig]:
//
//	f, err := cache.FromConfig(ctx, cfg, log)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	if err := f.Set(ctx, "user:123", user, 6); err != nil {
//	    return err // only serialization failures reach here
//	}
//	found, u := cache.Get[User](ctx, f, "user:123")
//
// Lookups check the memory tier first, then the durable tier. A durable hit
// is copied into the memory tier so later reads stay local. Writes go to the
// memory tier and then to the durable tier; the memory tier uses its own
// fixed TTL while the durable tier honours the ttlHours argument. A
// non-positive ttlHours is replaced by the configured default.
//
// # Tiers
//
//   - [MemoryTier] — a mutex-guarded map with a single TTL. Expired entries
//     are dropped when read and by a background sweep that runs until
//     [MemoryTier.Close]. Values are stored as-is (no copying). The tier can
//     be disabled, in which case it stores nothing.
//
//   - [RedisTier] — Redis via [github.com/redis/go-redis/v9]. Each key is a
//     hash holding the payload, its compression flag and an xxhash checksum,
//     with a native Redis TTL. The client connects on first use. Every
//     operation is bounded by [DefaultQueryTimeout], retries included, and a
//     circuit breaker fails calls fast while Redis is down.
//
//   - [SQLiteTier] — a local database using [modernc.org/sqlite] (pure Go, no
//     CGO) for single-node deployments. Expired rows are ignored on read and
//     purged periodically.
//
//   - [NullTier] — the durable tier used when none is configured.
//
// Any type implementing [Tier] can be passed to [New].
//
// # Payloads
//
// Values are serialized with msgpack ([github.com/vmihailenco/msgpack/v5])
// before any tier is written, so a value that cannot be serialized
// (functions, channels) is rejected with [ErrSerialization] and leaves the
// cache untouched. Payloads above the compression threshold are compressed
// by the compress package before they reach the durable tier.
//
// [Facade.Get] decodes durable payloads generically (maps, slices, int64).
// The generic [Get] decodes straight into the requested type, and converts
// memory hits of a different shape the same way.
//
// # Degradation
//
// The durable tier is best effort. When it is unreachable, times out or
// returns a corrupt record, the [Facade] logs a warning, counts it in
// [Facade.Stats] and carries on as if the key were absent (reads) or the
// write had not happened (writes). The memory tier keeps serving. Callers
// never see [ErrTierUnavailable], [ErrInvalidTTL] or [ErrCorruptPayload];
// those are for code using a [Tier] directly.
//
// # Cache-aside
//
// [Exec] combines lookup and population:
//
//	found, user, err := cache.Exec(ctx, f, cache.ExecConfig{Key: "user:123"},
//	    func(ctx context.Context) (User, bool, error) {
//	        user, err := queries.GetUser(ctx, id)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return User{}, false, nil // not found, won't be cached
//	        }
//	        return user, true, err
//	    },
//	)
//
// When the [Invoker] reports found as false nothing is cached, so absent
// records are not served from the cache as zero values.
package cache
