package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"
)

func TestLocalStoreAtomicOperations(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir, "results/")
	require.NoError(t, err)

	ctx := context.Background()
	key := RunKey(store.Prefix(), "run-1", "summary.json")
	assert.Equal(t, "results/run-1/summary.json", key)

	temp, err := store.WriteTemp(ctx, key, []byte(`{"docs_sent":10}`))
	require.NoError(t, err)
	_, err = os.Stat(temp)
	require.NoError(t, err, "temp file should exist")

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "final file should not exist before Finalize")

	require.NoError(t, store.Finalize(ctx, []Move{{Temp: temp, Final: key}}))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err), "temp file should be gone after Finalize")

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"docs_sent":10}`, string(data))

	assert.True(t, strings.HasPrefix(store.URI(key), "file://"))
	assert.True(t, strings.HasSuffix(store.URI(key), "results/run-1/summary.json"))
}

func TestLocalStoreAbort(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	t1, err := store.WriteTemp(ctx, "run/a", []byte("a"))
	require.NoError(t, err)
	t2, err := store.WriteTemp(ctx, "run/b", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, store.Abort(ctx, []string{t1, t2, t1}))
	for _, p := range []string{t1, t2} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestLocalStoreFinalizeRollsBack(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "")
	require.NoError(t, err)
	ctx := context.Background()

	good, err := store.WriteTemp(ctx, "run/a", []byte("a"))
	require.NoError(t, err)

	err = store.Finalize(ctx, []Move{
		{Temp: good, Final: "run/a"},
		{Temp: filepath.Join(dir, "missing.tmp"), Final: "run/b"},
	})
	require.Error(t, err)

	exists, err := store.Exists(ctx, "run/a")
	require.NoError(t, err)
	assert.False(t, exists, "already moved files are removed on failure")
}

func TestPublishLocal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "loads")
	require.NoError(t, err)
	ctx := context.Background()

	artifacts := []Artifact{
		{Name: "summary.json", Data: []byte(`{"docs_sent":1000}`)},
		{Name: "batches.parquet", Data: []byte("PAR1...PAR1")},
	}
	res, err := Publish(ctx, store, "run-42", ProducerInfo{Name: "bulk-loadgen", Version: "test"}, artifacts)
	require.NoError(t, err)
	assert.Equal(t, "loads/run-42/_manifest.json", res.ManifestKey)

	raw, err := store.Read(ctx, res.ManifestKey)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "run-42", m.RunID)
	require.Len(t, m.Files, 2)

	for _, a := range artifacts {
		info := m.Files[a.Name]
		data, err := store.Read(ctx, info.Key)
		require.NoError(t, err)
		assert.True(t, VerifyChecksum(data, info.Checksum), a.Name)
		assert.Equal(t, int64(len(a.Data)), info.ByteSize)
	}

	verified, err := Verify(ctx, store, res.ManifestKey)
	require.NoError(t, err)
	assert.Equal(t, m.Files, verified.Files)

	_, err = Publish(ctx, store, "run-42", ProducerInfo{}, artifacts)
	assert.True(t, errors.Is(err, ErrRunExists))

	// A file changed after publishing no longer verifies.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loads", "run-42", "summary.json"), []byte(`{"docs_sent":1001}`), 0644))
	_, err = Verify(ctx, store, res.ManifestKey)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = Verify(ctx, store, "loads/run-missing/_manifest.json")
	assert.Error(t, err)
}

func TestPublishBlob(t *testing.T) {
	dir := t.TempDir()
	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	defer bucket.Close()

	store := NewBlobStore(bucket, "file://"+filepath.ToSlash(dir), "bench")
	ctx := context.Background()

	res, err := Publish(ctx, store, "run-7", ProducerInfo{Name: "bulk-loadgen"}, []Artifact{
		{Name: "summary.json", Data: []byte("{}")},
	})
	require.NoError(t, err)

	data, err := store.Read(ctx, "bench/run-7/summary.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	assert.Equal(t, "sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", res.Manifest.Files["summary.json"].Checksum)
	assert.Equal(t, "file://"+filepath.ToSlash(dir)+"/bench/run-7/_manifest.json", store.URI(res.ManifestKey))

	exists, err := store.Exists(ctx, res.ManifestKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNewStoreValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewStore(ctx, Config{Backend: "local"})
	assert.Error(t, err)
	_, err = NewStore(ctx, Config{Backend: "gcs"})
	assert.Error(t, err)
	_, err = NewStore(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)

	s, err := NewStore(ctx, Config{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestS3URL(t *testing.T) {
	assert.Equal(t, "s3://b", s3URL("b", "", ""))
	assert.Equal(t, "s3://b?endpoint=http%3A%2F%2Fminio%3A9000&region=us-east-1&use_path_style=true",
		s3URL("b", "http://minio:9000", "us-east-1"))
}
