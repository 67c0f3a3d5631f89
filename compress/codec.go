package compress

import (
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// DefaultThreshold is the payload size in bytes above which Encode compresses.
const DefaultThreshold = 1024

var (
	// ErrEmptyPayload is returned by Encode when given zero bytes.
	ErrEmptyPayload = errors.New("compress: empty payload")
	// ErrCorruptPayload is returned by Decode when a compressed payload cannot be reversed.
	ErrCorruptPayload = errors.New("compress: corrupt payload")
)

// Codec applies size-triggered zstd compression. Whether a payload was
// compressed is reported to the caller and must be stored alongside it;
// Decode never sniffs the content.
//
// A Codec is safe for concurrent use.
type Codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec returns a Codec that compresses payloads longer than threshold.
// A threshold <= 0 selects DefaultThreshold.
func NewCodec(threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "compress: creating zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, errors.Wrap(err, "compress: creating zstd decoder")
	}
	return &Codec{
		threshold: threshold,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Threshold returns the configured compression threshold.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Encode returns data compressed when it is longer than the threshold, and
// unchanged otherwise. The bool reports which of the two happened.
func (c *Codec) Encode(data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return nil, false, ErrEmptyPayload
	}
	if len(data) <= c.threshold {
		return data, false, nil
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), true, nil
}

// Decode reverses Encode. When compressed is false the input is returned as is.
func (c *Codec) Decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "compress: zstd decode"), ErrCorruptPayload)
	}
	return out, nil
}

// Close releases the encoder and decoder resources.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
