package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobStore writes results to a gocloud bucket (GCS, S3 or a file:// bucket).
type BlobStore struct {
	bucket *blob.Bucket
	base   string // bucket URL without query parameters
	prefix string
	owned  bool
}

// OpenBlobStore opens the bucket at bucketURL.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	s := NewBlobStore(bucket, bucketURL, prefix)
	s.owned = true
	return s, nil
}

// NewBlobStore wraps an opened bucket. The caller keeps ownership of it.
func NewBlobStore(bucket *blob.Bucket, bucketURL, prefix string) *BlobStore {
	base := bucketURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return &BlobStore{bucket: bucket, base: strings.TrimRight(base, "/"), prefix: prefix}
}

// Prefix returns the key prefix results are written under.
func (s *BlobStore) Prefix() string { return s.prefix }

// WriteTemp writes data to a uniquely suffixed temporary key.
func (s *BlobStore) WriteTemp(ctx context.Context, key string, data []byte) (string, error) {
	tempKey := key + ".tmp." + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

func (s *BlobStore) write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Finalize copies temp objects to their final keys, then deletes the temps.
func (s *BlobStore) Finalize(ctx context.Context, moves []Move) error {
	temps := make([]string, len(moves))
	for i, m := range moves {
		temps[i] = m.Temp
	}

	for i, m := range moves {
		if err := s.bucket.Copy(ctx, m.Final, m.Temp, nil); err != nil {
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, moves[j].Final)
			}
			s.Abort(ctx, temps)
			return fmt.Errorf("finalize %s -> %s: %w", m.Temp, m.Final, err)
		}
	}

	for _, t := range temps {
		s.bucket.Delete(ctx, t) // ignore errors
	}
	return nil
}

// Abort removes temporary objects without publishing.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	var errs []error
	for _, key := range tempKeys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Read returns an object's content.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object is published.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.base + "/" + key
}

// Close releases the bucket connection if this store opened it.
func (s *BlobStore) Close() error {
	if s.owned && s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
