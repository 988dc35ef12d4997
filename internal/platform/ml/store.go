package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ArtifactStore persists model artifacts. Implementations must be
// write-then-publish: a reader can never observe a partially written
// artifact.
type ArtifactStore interface {
	Save(ctx context.Context, artifact *ModelArtifact) error
	Load(ctx context.Context, version int64) (*ModelArtifact, error)
	List(ctx context.Context) ([]*ModelArtifact, error)
	LatestVersion(ctx context.Context) (int64, error)
}

// ---------------------------------------------------------------------------
// Filesystem store
// ---------------------------------------------------------------------------

const artifactFilePrefix = "artifact_v"

// FSStore stores each artifact as one JSON file under a directory, written
// to a temp file and renamed into place so readers only ever see complete
// artifacts.
type FSStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &FSStore{dir: dir, logger: zerolog.Nop()}, nil
}

// WithLogger attaches a logger for non-fatal store conditions.
func (s *FSStore) WithLogger(logger zerolog.Logger) *FSStore {
	s.logger = logger
	return s
}

func (s *FSStore) path(version int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d.json", artifactFilePrefix, version))
}

func (s *FSStore) Save(_ context.Context, artifact *ModelArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact v%d: %w", artifact.Version, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact v%d: %w", artifact.Version, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact v%d: %w", artifact.Version, err)
	}
	if err := os.Rename(tmpName, s.path(artifact.Version)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish artifact v%d: %w", artifact.Version, err)
	}
	return nil
}

func (s *FSStore) Load(_ context.Context, version int64) (*ModelArtifact, error) {
	data, err := os.ReadFile(s.path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: v%d", ErrArtifactNotFound, version)
		}
		return nil, fmt.Errorf("read artifact v%d: %w", version, err)
	}
	var artifact ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: artifact v%d is corrupt: %v", ErrModelUnavailable, version, err)
	}
	return &artifact, nil
}

func (s *FSStore) List(ctx context.Context) ([]*ModelArtifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list model directory: %w", err)
	}
	var artifacts []*ModelArtifact
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, artifactFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, artifactFilePrefix), ".json")
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		artifact, err := s.Load(ctx, version)
		if err != nil {
			// A corrupt or vanished file must not take the whole
			// registry down; the remaining artifacts still serve.
			if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrArtifactNotFound) {
				s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable model artifact")
				continue
			}
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Version < artifacts[j].Version })
	return artifacts, nil
}

func (s *FSStore) LatestVersion(ctx context.Context) (int64, error) {
	artifacts, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(artifacts) == 0 {
		return 0, nil
	}
	return artifacts[len(artifacts)-1].Version, nil
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStore is an in-memory ArtifactStore for tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[int64]*ModelArtifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[int64]*ModelArtifact)}
}

func (s *MemoryStore) Save(_ context.Context, artifact *ModelArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *artifact
	s.artifacts[artifact.Version] = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, version int64) (*ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[version]
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrArtifactNotFound, version)
	}
	cp := *artifact
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ModelArtifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryStore) LatestVersion(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest int64
	for v := range s.artifacts {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}
