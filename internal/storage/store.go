// Package storage publishes run results (summary, batch log, manifest) to a
// local directory or an object store bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ManifestFile is the name of the manifest written last in a run directory.
const ManifestFile = "_manifest.json"

// Manifest describes the artifacts published for a run.
type Manifest struct {
	RunID     string              `json:"run_id"`
	Files     map[string]FileInfo `json:"files"`
	Producer  ProducerInfo        `json:"producer"`
	CreatedAt time.Time           `json:"created_at"`
}

// FileInfo describes a single published artifact.
type FileInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Move pairs a temporary key with its final key.
type Move struct {
	Temp  string
	Final string
}

// Store writes objects with a temp-then-finalize protocol so readers never
// observe a partially published run.
type Store interface {
	// WriteTemp writes data under a temporary key derived from key.
	WriteTemp(ctx context.Context, key string, data []byte) (tempKey string, err error)

	// Finalize moves temp objects to their final keys in order. On failure
	// already moved objects are removed and the temps are aborted.
	Finalize(ctx context.Context, moves []Move) error

	// Abort removes temporary objects without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Read returns a stored object.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is published.
	Exists(ctx context.Context, key string) (bool, error)

	// Prefix returns the key prefix results are written under.
	Prefix() string

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	Close() error
}

// Config configures the results backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for MinIO and R2)
	S3Endpoint string
	S3Region   string

	// Common
	Prefix string // path prefix within bucket or local dir
}

// NewStore creates a results backend based on configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return OpenBlobStore(ctx, "gs://"+cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return OpenBlobStore(ctx, s3URL(cfg.Bucket, cfg.S3Endpoint, cfg.S3Region), cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func s3URL(bucket, endpoint, region string) string {
	bucketURL := "s3://" + bucket

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}
	return bucketURL
}

// RunKey returns the key of an artifact of a run under prefix.
func RunKey(prefix, runID, name string) string {
	p := strings.Trim(prefix, "/")
	if p == "" {
		return path.Join(runID, name)
	}
	return path.Join(p, runID, name)
}
