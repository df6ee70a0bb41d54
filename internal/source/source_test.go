package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestSplitObjectURL(t *testing.T) {
	tests := []struct {
		in         string
		bucket     string
		key        string
		shouldFail bool
	}{
		{"gs://my-bucket/loads/docs.ndjson", "gs://my-bucket", "loads/docs.ndjson", false},
		{"s3://b/k.bin?region=eu-west-1", "s3://b?region=eu-west-1", "k.bin", false},
		{"file:///tmp/data/docs.ndjson", "file:///tmp/data", "docs.ndjson", false},
		{"gs://only-bucket", "", "", true},
		{"file:///tmp/data/", "", "", true},
		{"ftp://host/x", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := SplitObjectURL(tt.in)
		if tt.shouldFail {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, bucket)
		assert.Equal(t, tt.key, key)
	}
}

func TestLocalInputOpenAtOffset(t *testing.T) {
	ctx := context.Background()
	p := writeFile(t, t.TempDir(), "in.ndjson", []byte("0123456789"))

	in, err := Open(ctx, p)
	require.NoError(t, err)
	defer in.Close()

	size, err := in.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	r, err := in.Open(ctx, 4)
	require.NoError(t, err)
	defer r.Close()
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(rest))
}

func TestLocalInputRejectsDirectory(t *testing.T) {
	_, err := NewLocalInput(t.TempDir())
	assert.Error(t, err)
	_, err = NewLocalInput(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestBlobInputRangeReads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "docs.ndjson", []byte("{\"a\":1}\n{\"a\":2}\n"))

	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	defer bucket.Close()

	in, err := NewBlobInput(ctx, bucket, "docs.ndjson")
	require.NoError(t, err)

	size, err := in.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(16), size)

	r, err := in.Open(ctx, 8)
	require.NoError(t, err)
	defer r.Close()
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":2}\n", string(rest))

	_, err = NewBlobInput(ctx, bucket, "missing.ndjson")
	assert.Error(t, err)
}

func TestOpenFileURL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "docs.ndjson", []byte("x\ny\n"))

	in, err := Open(ctx, "file://"+filepath.ToSlash(dir)+"/docs.ndjson")
	require.NoError(t, err)
	defer in.Close()

	r, err := in.Open(ctx, 0)
	require.NoError(t, err)
	defer r.Close()
	n, err := CountLines(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
		{"\n\n\n", 3},
		{strings.Repeat("doc\n", 100000), 100000},
	}
	for _, tt := range tests {
		got, err := CountLines(context.Background(), strings.NewReader(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input len %d", len(tt.in))
	}
}

func TestCountLinesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CountLines(ctx, strings.NewReader("a\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenDecoded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	plain := []byte("{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n")

	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var gbuf bytes.Buffer
	gw := gzip.NewWriter(&gbuf)
	_, err = gw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	for name, data := range map[string][]byte{
		"docs.ndjson":     plain,
		"docs.ndjson.zst": zbuf.Bytes(),
		"docs.ndjson.gz":  gbuf.Bytes(),
	} {
		in, err := NewLocalInput(writeFile(t, dir, name, data))
		require.NoError(t, err)

		r, err := OpenDecoded(ctx, in, 0)
		require.NoError(t, err, name)
		got, err := io.ReadAll(r)
		require.NoError(t, err, name)
		require.NoError(t, r.Close())
		assert.Equal(t, plain, got, name)
	}
}

func TestOpenDecodedRejectsOffset(t *testing.T) {
	in, err := NewLocalInput(writeFile(t, t.TempDir(), "docs.ndjson.zst", []byte("x")))
	require.NoError(t, err)
	_, err = OpenDecoded(context.Background(), in, 10)
	assert.True(t, errors.Is(err, ErrUnsupportedSeek))
}

func TestDetectCompression(t *testing.T) {
	assert.Equal(t, CompressionZstd, DetectCompression("a.ndjson.zst"))
	assert.Equal(t, CompressionGzip, DetectCompression("gs://b/a.ndjson.gz"))
	assert.Equal(t, CompressionNone, DetectCompression("a.smile"))
	assert.Equal(t, "zstd", CompressionZstd.String())
}
