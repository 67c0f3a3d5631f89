package cache

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

// Get returns the value cached for key as a T. A durable hit is decoded
// straight into T. A memory hit holding some other shape (for example a
// map promoted by an untyped Get) is converted through the wire encoding;
// if that fails the lookup is a miss.
func Get[T any](ctx context.Context, f *Facade, key string) (bool, T) {
	var zero T
	found, val := f.get(ctx, key, func(data []byte) (any, error) {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, err
		}
		return result, nil
	})
	if !found {
		return false, zero
	}
	typed, err := convert[T](val)
	if err != nil {
		f.log.Warn("cached value for %s does not fit %T: %v", key, zero, err)
		return false, zero
	}
	return true, typed
}

func convert[T any](val any) (T, error) {
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	var result T
	if val == nil {
		return result, nil
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return result, err
	}
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return result, err
	}
	return result, nil
}

// ExecConfig names the key an Exec result is cached under.
type ExecConfig struct {
	Key string
	// TTLHours is the durable TTL. Zero uses the Facade's default.
	TTLHours int
}

// Invoker produces a value on a cache miss. It returns false if there is
// nothing to cache.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec returns the cached value for config.Key, or calls invoke and caches
// what it returns. A failure to cache the result is logged, not returned.
func Exec[T any](ctx context.Context, f *Facade, config ExecConfig, invoke Invoker[T]) (bool, T, error) {
	if found, val := Get[T](ctx, f, config.Key); found {
		return true, val, nil
	}
	var zero T
	result, ok, err := invoke(ctx)
	if err != nil {
		return false, zero, err
	}
	if !ok {
		return false, zero, nil
	}
	if err := f.Set(ctx, config.Key, result, config.TTLHours); err != nil {
		f.log.Error("unable to cache %s: %v", config.Key, err)
	}
	return true, result, nil
}
