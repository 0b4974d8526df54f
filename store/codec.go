package store

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	// CompressionThreshold is the minimum value size before compression is considered.
	CompressionThreshold = 2048

	// MaxDecompressedSize is the hard cap during decompression to prevent compression bombs.
	MaxDecompressedSize = 10 * 1024 * 1024 // 10MB

	encodingZstd = "zstd"
	digestPrefix = "blake3:"
)

var (
	// ErrMalformed is returned when a stored record cannot be decoded.
	ErrMalformed = errors.New("store: malformed record")

	nullLiteral = []byte("null")
)

// record is the stored shape: {"data": ...} for permanent entries and
// {"data": ..., "timeout": <epoch ms>} for timed ones. Large values are
// stored zstd-compressed in payload instead of data.
type record struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Timeout  *int64          `json:"timeout,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
	Payload  []byte          `json:"payload,omitempty"`
	Size     int             `json:"size,omitempty"`
	Digest   string          `json:"digest,omitempty"`
}

// Codec encodes entries to stored records and back.
// Encoder and decoder are goroutine-safe and can be reused.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a codec with pooled zstd encoder/decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode serializes data with an optional expiry.
func (c *Codec) Encode(data json.RawMessage, expiresAt *time.Time) ([]byte, error) {
	// Normalise to the exact bytes json.Marshal embeds so the digest
	// matches what Decode sees.
	data, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalising value: %w", err)
	}

	rec := record{Digest: computeDigest(data)}
	if expiresAt != nil {
		ms := expiresAt.UnixMilli()
		rec.Timeout = &ms
	}

	rec.Data = data
	if len(data) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()

		if enc != nil {
			if compressed := enc.EncodeAll(data, nil); len(compressed) < len(data) {
				rec.Data = nil
				rec.Encoding = encodingZstd
				rec.Payload = compressed
				rec.Size = len(data)
			}
		}
	}

	return json.Marshal(rec)
}

// Decode parses a stored record. Anything that is not a well-formed
// permanent or timed record returns ErrMalformed.
func (c *Codec) Decode(raw []byte) (Entry, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	data, err := c.payload(rec)
	if err != nil {
		return nil, err
	}

	if rec.Timeout == nil {
		return Permanent{Data: data}, nil
	}
	return Timed{Data: data, ExpiresAt: time.UnixMilli(*rec.Timeout)}, nil
}

func (c *Codec) payload(rec record) (json.RawMessage, error) {
	var data []byte
	switch rec.Encoding {
	case "":
		data = rec.Data
	case encodingZstd:
		if rec.Size > MaxDecompressedSize {
			return nil, fmt.Errorf("%w: declared size %d exceeds limit", ErrMalformed, rec.Size)
		}

		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, fmt.Errorf("%w: no zstd decoder", ErrMalformed)
		}

		decompressed, err := dec.DecodeAll(rec.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing: %v", ErrMalformed, err)
		}
		data = decompressed
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrMalformed, rec.Encoding)
	}

	if len(data) == 0 || bytes.Equal(data, nullLiteral) {
		return nil, fmt.Errorf("%w: no data", ErrMalformed)
	}
	if rec.Digest != "" && computeDigest(data) != rec.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrMalformed)
	}
	return data, nil
}

// declaresTimeout reports whether raw carries a "timeout" member, or is not
// a JSON object at all.
func declaresTimeout(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return true
	}
	_, ok := fields["timeout"]
	return ok
}

// computeDigest computes a BLAKE3 digest in canonical format.
func computeDigest(data []byte) string {
	h := blake3.Sum256(data)
	return digestPrefix + hex.EncodeToString(h[:])
}
