package cache

import (
	"github.com/agentuity/tiercache/compress"
	"github.com/cockroachdb/errors"
)

var (
	// ErrSerialization is returned by Facade.Set when the value cannot be
	// serialized. Nothing is written to any tier when it occurs.
	ErrSerialization = errors.New("cache: value cannot be serialized")

	// ErrInvalidTTL is returned by a durable tier asked to store a record
	// with a TTL below one hour.
	ErrInvalidTTL = errors.New("cache: ttl must be at least one hour")

	// ErrTierUnavailable marks durable tier failures caused by connectivity,
	// timeouts or an open circuit.
	ErrTierUnavailable = errors.New("cache: durable tier unavailable")

	// ErrCorruptPayload matches both codec failures and records whose
	// envelope or checksum is invalid.
	ErrCorruptPayload = compress.ErrCorruptPayload

	// ErrEmptyPayload is the codec's rejection of zero-length input.
	ErrEmptyPayload = compress.ErrEmptyPayload
)

func unavailable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrTierUnavailable)
}

func corrupt(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruptPayload)
}
