package ml

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultRegressionTolerance is how far a candidate's validation accuracy
// may fall below the active artifact's before promotion is rejected.
const DefaultRegressionTolerance = 0.02

// Registry stores model artifacts and tracks the single active version. The
// active pointer is swapped atomically; readers snapshot it once per
// operation and in-flight work completes against the version it started
// with. Promotion is gated so the active accuracy never drops beyond the
// regression tolerance.
type Registry struct {
	store     ArtifactStore
	logger    zerolog.Logger
	tolerance float64

	mu     sync.Mutex // serializes writers (register, promote)
	active atomic.Pointer[LoadedModel]
}

func NewRegistry(store ArtifactStore, logger zerolog.Logger, tolerance float64) *Registry {
	if tolerance <= 0 {
		tolerance = DefaultRegressionTolerance
	}
	return &Registry{store: store, logger: logger, tolerance: tolerance}
}

// Register assigns the next monotonic version and persists the artifact.
// Registration does not activate it; call Promote.
func (r *Registry) Register(ctx context.Context, artifact *ModelArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest, err := r.store.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("determine latest version: %w", err)
	}
	artifact.Version = latest + 1
	if err := r.store.Save(ctx, artifact); err != nil {
		return fmt.Errorf("save artifact v%d: %w", artifact.Version, err)
	}
	r.logger.Info().
		Int64("version", artifact.Version).
		Float64("validation_accuracy", artifact.ValidationAccuracy).
		Int("training_set_size", artifact.TrainingSetSize).
		Msg("model artifact registered")
	return nil
}

// Promote atomically makes the given version active, unless its validation
// accuracy falls below the active artifact's accuracy minus the tolerance,
// in which case ErrRegressionRejected is returned and the old artifact stays
// active.
func (r *Registry) Promote(ctx context.Context, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, err := r.store.Load(ctx, version)
	if err != nil {
		return err
	}
	loaded, err := artifact.Load()
	if err != nil {
		return err
	}

	if current := r.active.Load(); current != nil {
		floor := current.Artifact.ValidationAccuracy - r.tolerance
		if artifact.ValidationAccuracy < floor {
			r.logger.Warn().
				Int64("candidate_version", version).
				Float64("candidate_accuracy", artifact.ValidationAccuracy).
				Int64("active_version", current.Artifact.Version).
				Float64("active_accuracy", current.Artifact.ValidationAccuracy).
				Msg("promotion rejected for accuracy regression")
			return fmt.Errorf("%w: candidate %.4f < active %.4f - %.4f",
				ErrRegressionRejected, artifact.ValidationAccuracy,
				current.Artifact.ValidationAccuracy, r.tolerance)
		}
	}

	r.active.Store(loaded)
	r.logger.Info().
		Int64("version", version).
		Float64("validation_accuracy", artifact.ValidationAccuracy).
		Msg("model artifact promoted")
	return nil
}

// Active returns the currently active model. The pointer is read exactly
// once; callers hold the snapshot for the whole operation.
func (r *Registry) Active() (*LoadedModel, error) {
	if m := r.active.Load(); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: no active artifact", ErrModelUnavailable)
}

// List returns all stored artifacts ordered by version.
func (r *Registry) List(ctx context.Context) ([]*ModelArtifact, error) {
	return r.store.List(ctx)
}

// ActiveVersion returns the active version, or 0 when none is active.
func (r *Registry) ActiveVersion() int64 {
	if m := r.active.Load(); m != nil {
		return m.Artifact.Version
	}
	return 0
}

// Bootstrap activates the newest stored artifact, if any. Used at startup so
// a restarted server resumes serving the last promoted model. Missing
// artifacts are not an error; a corrupt one is.
func (r *Registry) Bootstrap(ctx context.Context) error {
	latest, err := r.store.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	if latest == 0 {
		r.logger.Info().Msg("no stored model artifacts; inference disabled until first training")
		return nil
	}
	return r.Promote(ctx, latest)
}
