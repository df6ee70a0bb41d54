package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LocalInput reads a file from the local filesystem.
type LocalInput struct {
	path string
}

// NewLocalInput checks that path is a readable regular file.
func NewLocalInput(path string) (*LocalInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid input path %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("input path %s is a directory", path)
	}
	return &LocalInput{path: path}, nil
}

// Name returns the file path.
func (in *LocalInput) Name() string { return in.path }

// Size returns the file size.
func (in *LocalInput) Size(_ context.Context) (int64, error) {
	info, err := os.Stat(in.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", in.path, err)
	}
	return info.Size(), nil
}

// Open opens a fresh file handle positioned at offset.
func (in *LocalInput) Open(_ context.Context, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(in.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", in.path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", in.path, offset, err)
		}
	}
	return f, nil
}

// Close is a no-op; every Open owns its own handle.
func (in *LocalInput) Close() error { return nil }
