package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes results to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir, prefix: prefix}, nil
}

// Prefix returns the key prefix results are written under.
func (s *LocalStore) Prefix() string { return s.prefix }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// WriteTemp writes data next to its final path with a unique temp suffix.
// The returned temp key is a filesystem path.
func (s *LocalStore) WriteTemp(_ context.Context, key string, data []byte) (string, error) {
	path := s.path(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp." + uuid.New().String()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	return tempPath, nil
}

// Finalize renames temp files into place.
func (s *LocalStore) Finalize(ctx context.Context, moves []Move) error {
	for i, m := range moves {
		final := s.path(m.Final)
		if err := os.Rename(m.Temp, final); err != nil {
			for j := 0; j < i; j++ {
				os.Remove(s.path(moves[j].Final))
			}
			temps := make([]string, 0, len(moves)-i)
			for _, rest := range moves[i:] {
				temps = append(temps, rest.Temp)
			}
			s.Abort(ctx, temps)
			return fmt.Errorf("rename %s to %s: %w", m.Temp, final, err)
		}
	}
	return nil
}

// Abort removes temp files; missing files are not an error.
func (s *LocalStore) Abort(_ context.Context, tempKeys []string) error {
	var errs []error
	for _, p := range tempKeys {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Read returns the content of a published file.
func (s *LocalStore) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if a file is published.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.path(key))
	if err != nil {
		absPath = s.path(key)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
