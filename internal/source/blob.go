package source

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobInput reads a single object from a gocloud bucket. GCS uses Application
// Default Credentials; S3 uses the default AWS credential chain.
type BlobInput struct {
	bucket *blob.Bucket
	key    string
	name   string
	owned  bool
}

// OpenBlobInput opens the bucket at bucketURL and checks that key exists.
func OpenBlobInput(ctx context.Context, bucketURL, key string) (*BlobInput, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	in, err := NewBlobInput(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	in.name = bucketURL + "/" + key
	in.owned = true
	return in, nil
}

// NewBlobInput wraps an already opened bucket. The caller keeps ownership of
// the bucket.
func NewBlobInput(ctx context.Context, bucket *blob.Bucket, key string) (*BlobInput, error) {
	ok, err := bucket.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check object %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return &BlobInput{bucket: bucket, key: key, name: key}, nil
}

// Name returns the object location.
func (in *BlobInput) Name() string { return in.name }

// Size returns the object size.
func (in *BlobInput) Size(ctx context.Context) (int64, error) {
	attrs, err := in.bucket.Attributes(ctx, in.key)
	if err != nil {
		return 0, fmt.Errorf("attributes of %s: %w", in.key, err)
	}
	return attrs.Size, nil
}

// Open returns a ranged reader from offset to the end of the object.
func (in *BlobInput) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	r, err := in.bucket.NewRangeReader(ctx, in.key, offset, -1, nil)
	if err != nil {
		return nil, fmt.Errorf("open object %s at %d: %w", in.key, offset, err)
	}
	return r, nil
}

// Close releases the bucket if this input opened it.
func (in *BlobInput) Close() error {
	if in.owned && in.bucket != nil {
		return in.bucket.Close()
	}
	return nil
}
