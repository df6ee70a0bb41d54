package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies how an input is encoded on storage.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionGzip
)

// DetectCompression infers the encoding from the input name.
func DetectCompression(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return CompressionZstd
	case strings.HasSuffix(name, ".gz"):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// OpenDecoded opens in at offset and transparently decompresses it.
// Compressed inputs can only be read from the start.
func OpenDecoded(ctx context.Context, in Input, offset int64) (io.ReadCloser, error) {
	c := DetectCompression(in.Name())
	if c != CompressionNone && offset > 0 {
		return nil, fmt.Errorf("%s: %w", in.Name(), ErrUnsupportedSeek)
	}

	raw, err := in.Open(ctx, offset)
	if err != nil {
		return nil, err
	}

	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		return &decodedReader{Reader: dec, close: func() error { dec.Close(); return raw.Close() }}, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(raw)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &decodedReader{Reader: zr, close: func() error { zr.Close(); return raw.Close() }}, nil
	default:
		return raw, nil
	}
}

type decodedReader struct {
	io.Reader
	close func() error
}

func (r *decodedReader) Close() error { return r.close() }
