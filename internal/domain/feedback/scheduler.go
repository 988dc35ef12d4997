package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/platform/knowledge"
	"github.com/triage/triage/internal/platform/ml"
)

// DefaultSyntheticSamples is how many synthetic cases each retraining cycle
// generates before corrections are mixed in.
const DefaultSyntheticSamples = 5000

// SchedulerConfig bundles the retraining tunables.
type SchedulerConfig struct {
	SyntheticSamples int
	MinTrainingCases int
	// Seed supplies the generator seed for each cycle. Defaults to the
	// current time so successive cycles resample.
	Seed func() int64
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.SyntheticSamples <= 0 {
		c.SyntheticSamples = DefaultSyntheticSamples
	}
	if c.MinTrainingCases <= 0 {
		c.MinTrainingCases = ml.DefaultMinTrainingCases
	}
	if c.Seed == nil {
		c.Seed = func() int64 { return time.Now().UnixNano() }
	}
	return c
}

// Scheduler runs retraining cycles: synthesize cases against a knowledge
// base snapshot, fold in feedback corrections, train, register and attempt
// promotion. Every cycle leaves a training_run row whatever its outcome.
// Cycles are triggered externally, through the admin endpoint or the
// retrain subcommand under cron; concurrent triggers are serialized.
type Scheduler struct {
	feedback Repository
	runs     TrainingRunRepository
	sessions SessionReader
	trainer  *ml.Trainer
	registry *ml.Registry
	base     *knowledge.Base
	cfg      SchedulerConfig
	logger   zerolog.Logger

	// events receives the outcome of each cycle. Optional.
	events func(outcome string)

	mu sync.Mutex
}

func NewScheduler(feedback Repository, runs TrainingRunRepository, sessions SessionReader,
	trainer *ml.Trainer, registry *ml.Registry, base *knowledge.Base,
	cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		feedback: feedback,
		runs:     runs,
		sessions: sessions,
		trainer:  trainer,
		registry: registry,
		base:     base,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// WithEventRecorder registers a callback invoked with each cycle's outcome.
func (s *Scheduler) WithEventRecorder(fn func(outcome string)) *Scheduler {
	s.events = fn
	return s
}

// RunCycle executes one retraining cycle and records it. A rejected
// promotion is a recorded outcome, not an error; the error return covers
// training and infrastructure failures.
func (s *Scheduler) RunCycle(ctx context.Context) (*TrainingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &TrainingRun{StartedAt: time.Now()}

	cases, applied, err := s.assembleCases(ctx)
	run.FeedbackApplied = applied
	if err == nil {
		run.TrainingSetSize = len(cases)
		err = s.trainAndPromote(ctx, cases, run)
	}
	if err != nil {
		run.Outcome = OutcomeFailed
		run.Error = err.Error()
	}

	now := time.Now()
	run.CompletedAt = &now
	if cerr := s.runs.Create(ctx, run); cerr != nil {
		s.logger.Error().Err(cerr).Msg("record training run")
	}
	if s.events != nil {
		s.events(run.Outcome)
	}

	s.logger.Info().
		Str("outcome", run.Outcome).
		Int64("model_version", run.ModelVersion).
		Int("training_set_size", run.TrainingSetSize).
		Int("feedback_applied", run.FeedbackApplied).
		Float64("validation_accuracy", run.ValidationAccuracy).
		Msg("retraining cycle finished")

	if err != nil {
		return run, fmt.Errorf("retraining cycle: %w", err)
	}
	return run, nil
}

// assembleCases snapshots the knowledge base, generates synthetic cases and
// appends corrected cases built from feedback. Corrections whose session can
// no longer be loaded are skipped, not fatal.
func (s *Scheduler) assembleCases(ctx context.Context) ([]ml.Case, int, error) {
	snapshot := s.base.Snapshot()
	gen := ml.NewCaseGenerator(snapshot, s.cfg.Seed())
	cases, err := gen.Generate(s.cfg.SyntheticSamples)
	if err != nil {
		return nil, 0, fmt.Errorf("generate synthetic cases: %w", err)
	}

	corrections, err := s.feedback.ListCorrections(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list feedback corrections: %w", err)
	}
	applied := 0
	for _, f := range corrections {
		c, ok := s.correctedCase(ctx, snapshot, f)
		if !ok {
			continue
		}
		cases = append(cases, c)
		applied++
	}
	return cases, applied, nil
}

func (s *Scheduler) correctedCase(ctx context.Context, snapshot *knowledge.Base, f *Feedback) (ml.Case, bool) {
	condition, ok := snapshot.Condition(f.ConfirmedCondition)
	if !ok {
		return ml.Case{}, false
	}
	sess, err := s.sessions.Get(ctx, f.SessionID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("feedback_id", f.ID.String()).
			Str("session_id", f.SessionID.String()).
			Msg("skipping correction, session unavailable")
		return ml.Case{}, false
	}
	reports := sess.PositiveReports()
	if len(reports) == 0 {
		return ml.Case{}, false
	}
	observations := make([]ml.Observation, 0, len(reports))
	for _, r := range reports {
		observations = append(observations, ml.Observation{
			Symptom:      r.Symptom,
			Severity:     r.Severity,
			DurationDays: r.DurationDays,
		})
	}
	return ml.Case{
		Patient: ml.Patient{
			Age:                sess.Patient.Age,
			Gender:             sess.Patient.Gender,
			ExistingConditions: sess.Patient.ExistingConditions,
		},
		Observations: observations,
		Condition:    condition.Name,
		Urgency:      condition.Urgency,
	}, true
}

func (s *Scheduler) trainAndPromote(ctx context.Context, cases []ml.Case, run *TrainingRun) error {
	artifact, err := s.trainer.Train(ctx, cases, ml.Hyperparameters{MinCases: s.cfg.MinTrainingCases})
	if err != nil {
		return err
	}
	if err := s.registry.Register(ctx, artifact); err != nil {
		return err
	}
	run.ModelVersion = artifact.Version
	run.ValidationAccuracy = artifact.ValidationAccuracy

	if err := s.registry.Promote(ctx, artifact.Version); err != nil {
		if errors.Is(err, ml.ErrRegressionRejected) {
			run.Outcome = OutcomeRejectedRegression
			run.Error = err.Error()
			return nil
		}
		return err
	}
	run.Outcome = OutcomePromoted
	return nil
}
