package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrUnavailable signals that a strategy cannot run here; the next one is tried.
var ErrUnavailable = errors.New("codec strategy unavailable")

// Strategy is one entry of the ordered encoding chain.
type Strategy interface {
	Tag() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Tags written by the built-in strategies.
const (
	TagGzip = "gzip"
	TagRaw  = "raw"
)

// maxDecodedBytes caps decompression output to guard against corrupt or hostile payloads.
const maxDecodedBytes = 256 << 20

// GzipStrategy compresses with gzip at the configured level.
type GzipStrategy struct {
	Level int
}

// NewGzipStrategy returns a gzip strategy using the default compression level.
func NewGzipStrategy() *GzipStrategy {
	return &GzipStrategy{Level: gzip.DefaultCompression}
}

// Tag implements Strategy.
func (g *GzipStrategy) Tag() string { return TagGzip }

// Encode implements Strategy.
func (g *GzipStrategy) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip level %d: %v", ErrUnavailable, g.Level, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Strategy.
func (g *GzipStrategy) Decode(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecodedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	if len(out) > maxDecodedBytes {
		return nil, fmt.Errorf("gzip payload exceeds %d bytes", maxDecodedBytes)
	}
	return out, nil
}

// RawStrategy stores the canonical encoding uncompressed. It never fails.
type RawStrategy struct{}

// Tag implements Strategy.
func (RawStrategy) Tag() string { return TagRaw }

// Encode implements Strategy.
func (RawStrategy) Encode(data []byte) ([]byte, error) {
	return data, nil
}

// Decode implements Strategy.
func (RawStrategy) Decode(data []byte) ([]byte, error) {
	return data, nil
}

// DefaultStrategies returns the standard chain: gzip first, raw as the fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{NewGzipStrategy(), RawStrategy{}}
}
