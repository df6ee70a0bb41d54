package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrRunExists is returned when a run's manifest is already published.
	ErrRunExists = errors.New("run results already published")
	// ErrChecksumMismatch is returned when a stored file differs from its
	// manifest entry.
	ErrChecksumMismatch = errors.New("stored file does not match manifest")
)

// Artifact is one named result file.
type Artifact struct {
	Name string
	Data []byte
}

// PublishResult describes a published run.
type PublishResult struct {
	ManifestKey string
	Manifest    *Manifest
}

// Publish writes the artifacts of a run and then its manifest.
//
// Order of operations:
//  1. Refuse if the run's manifest already exists
//  2. Write every artifact and the manifest to temp keys
//  3. Finalize artifacts first and the manifest last
//
// A reader that finds the manifest can rely on every listed file being present.
func Publish(ctx context.Context, store Store, runID string, producer ProducerInfo, artifacts []Artifact) (*PublishResult, error) {
	manifestKey := RunKey(store.Prefix(), runID, ManifestFile)
	if exists, err := store.Exists(ctx, manifestKey); err != nil {
		return nil, fmt.Errorf("check %s: %w", manifestKey, err)
	} else if exists {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunExists)
	}

	manifest := &Manifest{
		RunID:     runID,
		Files:     make(map[string]FileInfo, len(artifacts)),
		Producer:  producer,
		CreatedAt: time.Now().UTC(),
	}

	sorted := append([]Artifact(nil), artifacts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var moves []Move
	abort := func() {
		temps := make([]string, len(moves))
		for i, m := range moves {
			temps[i] = m.Temp
		}
		store.Abort(ctx, temps)
	}

	for _, a := range sorted {
		key := RunKey(store.Prefix(), runID, a.Name)
		temp, err := store.WriteTemp(ctx, key, a.Data)
		if err != nil {
			abort()
			return nil, fmt.Errorf("write %s: %w", a.Name, err)
		}
		moves = append(moves, Move{Temp: temp, Final: key})
		manifest.Files[a.Name] = FileInfo{
			Key:      key,
			Checksum: ComputeChecksum(a.Data),
			ByteSize: int64(len(a.Data)),
		}
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		abort()
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	temp, err := store.WriteTemp(ctx, manifestKey, data)
	if err != nil {
		abort()
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	moves = append(moves, Move{Temp: temp, Final: manifestKey})

	if err := store.Finalize(ctx, moves); err != nil {
		return nil, fmt.Errorf("finalize run %s: %w", runID, err)
	}
	return &PublishResult{ManifestKey: manifestKey, Manifest: manifest}, nil
}

// Verify reads a published manifest back and checks every file it lists
// against the recorded size and checksum.
func Verify(ctx context.Context, store Store, manifestKey string) (*Manifest, error) {
	raw, err := store.Read(ctx, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", manifestKey, err)
	}

	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := m.Files[name]
		data, err := store.Read(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if int64(len(data)) != info.ByteSize || !VerifyChecksum(data, info.Checksum) {
			return nil, fmt.Errorf("%s: %w", name, ErrChecksumMismatch)
		}
	}
	return &m, nil
}
