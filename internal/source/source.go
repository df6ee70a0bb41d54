// Package source provides byte-addressable access to a load input, either a
// local file or an object in a gocloud bucket.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// ErrUnsupportedSeek is returned when a compressed input is opened at a
// nonzero offset.
var ErrUnsupportedSeek = errors.New("compressed input cannot be opened at an offset")

// Input is a readable load input. Each Open returns an independent reader, so
// workers can read disjoint regions concurrently.
type Input interface {
	// Name identifies the input in logs.
	Name() string
	// Size returns the stored size in bytes.
	Size(ctx context.Context) (int64, error)
	// Open returns the stored bytes starting at offset.
	Open(ctx context.Context, offset int64) (io.ReadCloser, error)
	Close() error
}

// Open resolves location to an Input. Plain paths are read from the local
// filesystem; file://, gs:// and s3:// URLs are read through gocloud.
func Open(ctx context.Context, location string) (Input, error) {
	if !strings.Contains(location, "://") {
		return NewLocalInput(location)
	}
	bucketURL, key, err := SplitObjectURL(location)
	if err != nil {
		return nil, err
	}
	return OpenBlobInput(ctx, bucketURL, key)
}

// SplitObjectURL splits an object URL into the bucket URL gocloud opens and
// the object key. Query parameters stay with the bucket.
func SplitObjectURL(location string) (bucketURL, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse input url: %w", err)
	}

	switch u.Scheme {
	case "file":
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", fmt.Errorf("input url %q has no object name", location)
		}
		bucket := url.URL{Scheme: "file", Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if bucket.Path == "" {
			bucket.Path = "/"
		}
		return bucket.String(), base, nil
	case "gs", "s3":
		key = strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("input url %q must be %s://bucket/key", location, u.Scheme)
		}
		bucket := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
		return bucket.String(), key, nil
	default:
		return "", "", fmt.Errorf("unsupported input scheme %q", u.Scheme)
	}
}
