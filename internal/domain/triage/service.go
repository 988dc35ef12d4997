package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/platform/knowledge"
	"github.com/triage/triage/internal/platform/ml"
)

// Default stopping thresholds for the question loop.
const (
	DefaultConfidenceThreshold = 0.75
	DefaultMaxQuestions        = 8
	DefaultIdleTimeout         = 30 * time.Minute
)

// Predictor runs the trained models over a session's evidence. Satisfied by
// ml.Engine.
type Predictor interface {
	Predict(ctx context.Context, patient ml.Patient, observations []ml.Observation) (*ml.Prediction, error)
}

// Config bundles the session loop's tunables.
type Config struct {
	ConfidenceThreshold float64
	MaxQuestions        int
	IdleTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = DefaultMaxQuestions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Service drives diagnostic sessions: it validates input, walks the session
// state machine, asks follow-up questions and produces the final assessment.
// Each session allows one operation in flight at a time.
type Service struct {
	repo      SessionRepository
	predictor Predictor
	policy    *Policy
	base      *knowledge.Base
	cfg       Config
	logger    zerolog.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}

	// events receives session lifecycle notifications: started, completed,
	// abandoned, failed, expired. Optional.
	events func(event string)
}

func NewService(repo SessionRepository, predictor Predictor, policy *Policy, base *knowledge.Base, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		predictor: predictor,
		policy:    policy,
		base:      base,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		inflight:  make(map[uuid.UUID]struct{}),
	}
}

// WithEventRecorder registers a callback for session lifecycle events.
// Used to feed metrics without coupling the service to a metrics provider.
func (s *Service) WithEventRecorder(fn func(event string)) *Service {
	s.events = fn
	return s
}

func (s *Service) event(name string) {
	if s.events != nil {
		s.events(name)
	}
}

// StartInput opens a session with demographics and the initial complaints.
type StartInput struct {
	PatientID uuid.UUID       `json:"patient_id"`
	Patient   PatientContext  `json:"patient"`
	Symptoms  []SymptomReport `json:"symptoms"`
}

// AnswerInput is one answer to the session's pending question.
type AnswerInput struct {
	Symptom      string `json:"symptom"`
	Present      bool   `json:"present"`
	Severity     int    `json:"severity,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// Start validates the initial report, creates the session and advances it:
// either a first follow-up question is selected or, if the evidence is
// already decisive, the session completes immediately.
func (s *Service) Start(ctx context.Context, in StartInput) (*Session, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if err := s.validatePatient(in.Patient); err != nil {
		return nil, err
	}
	if len(in.Symptoms) == 0 {
		return nil, fmt.Errorf("%w: at least one symptom is required", ErrValidation)
	}
	seen := make(map[string]bool, len(in.Symptoms))
	for _, r := range in.Symptoms {
		if r.Negative {
			return nil, fmt.Errorf("%w: initial symptoms must be positive reports", ErrValidation)
		}
		if seen[r.Symptom] {
			return nil, fmt.Errorf("%w: duplicate symptom %q", ErrValidation, r.Symptom)
		}
		seen[r.Symptom] = true
		if err := s.validateReport(r); err != nil {
			return nil, err
		}
	}

	sess := &Session{
		PatientID: in.PatientID,
		State:     StateCollectingInitial,
		Patient:   in.Patient,
		Reports:   in.Symptoms,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("patient_id", in.PatientID.String()).
		Int("initial_symptoms", len(in.Symptoms)).
		Msg("triage session started")
	s.event("started")

	if err := s.advance(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// SubmitAnswer records the answer to the pending question and advances the
// session. Only one answer per session may be in flight.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, in AnswerInput) (*Session, error) {
	if err := s.acquire(sessionID); err != nil {
		return nil, err
	}
	defer s.release(sessionID)

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != StateQuestioning {
		return nil, fmt.Errorf("%w: session is %s, not accepting answers", ErrSessionState, sess.State)
	}
	if in.Symptom != sess.PendingQuestion {
		return nil, fmt.Errorf("%w: expected an answer about %q, got %q",
			ErrValidation, sess.PendingQuestion, in.Symptom)
	}

	report := SymptomReport{Symptom: in.Symptom, Negative: !in.Present}
	if in.Present {
		report.Severity = in.Severity
		report.DurationDays = in.DurationDays
		if err := s.validateReport(report); err != nil {
			return nil, err
		}
	}
	sess.Reports = append(sess.Reports, report)
	sess.QuestionsAsked++
	sess.PendingQuestion = ""

	if err := s.advance(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// Abandon terminates an active session without an assessment.
func (s *Service) Abandon(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	if err := s.acquire(sessionID); err != nil {
		return nil, err
	}
	defer s.release(sessionID)

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Transition(StateAbandoned); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID.String()).Msg("triage session abandoned")
	s.event("abandoned")
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, sessionID)
}

// History lists a patient's sessions, newest first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	if patientID == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ExpireIdle abandons sessions with no activity inside the idle timeout.
// Sessions with an operation in flight are skipped and picked up on the next
// sweep. Returns the number of sessions abandoned.
func (s *Service) ExpireIdle(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.IdleTimeout)
	idle, err := s.repo.ListIdleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}
	expired := 0
	for _, sess := range idle {
		if err := s.acquire(sess.ID); err != nil {
			continue
		}
		if terr := sess.Transition(StateAbandoned); terr == nil {
			if uerr := s.repo.Update(ctx, sess); uerr != nil {
				s.logger.Error().Err(uerr).Str("session_id", sess.ID.String()).Msg("expire idle session")
			} else {
				expired++
				s.event("expired")
			}
		}
		s.release(sess.ID)
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("idle triage sessions abandoned")
	}
	return expired, nil
}

// advance applies the stopping criterion. The session completes when the
// posterior is confident enough, the question budget is spent, or no
// remaining question is informative; otherwise the next question is posed.
func (s *Service) advance(ctx context.Context, sess *Session) error {
	posterior := s.policy.Posterior(sess.Patient, sess.Reports)
	confidence := s.policy.Confidence(posterior)

	if confidence >= s.cfg.ConfidenceThreshold || sess.QuestionsAsked >= s.cfg.MaxQuestions {
		return s.complete(ctx, sess)
	}
	q, ok := s.policy.NextQuestion(sess.Patient, sess.Reports)
	if !ok {
		return s.complete(ctx, sess)
	}

	if sess.State == StateCollectingInitial {
		if err := sess.Transition(StateQuestioning); err != nil {
			return err
		}
	}
	sess.PendingQuestion = q.Symptom
	if err := s.repo.Update(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	s.logger.Debug().
		Str("session_id", sess.ID.String()).
		Str("question", q.Symptom).
		Float64("expected_gain", q.Gain).
		Float64("confidence", confidence).
		Msg("follow-up question selected")
	return nil
}

// complete runs inference over the accumulated evidence. A failed prediction
// moves the session to failed so it cannot keep accepting answers against a
// model that is not there.
func (s *Service) complete(ctx context.Context, sess *Session) error {
	pred, err := s.predictor.Predict(ctx, mlPatient(sess.Patient), mlObservations(sess.PositiveReports()))
	if err != nil {
		if terr := sess.Transition(StateFailed); terr == nil {
			if uerr := s.repo.Update(ctx, sess); uerr != nil {
				s.logger.Error().Err(uerr).Str("session_id", sess.ID.String()).Msg("persist failed session")
			}
		}
		s.event("failed")
		return fmt.Errorf("session %s inference: %w", sess.ID, err)
	}
	sess.Result = pred
	if err := sess.Transition(StateComplete); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Int("questions_asked", sess.QuestionsAsked).
		Float64("urgency_score", pred.UrgencyScore).
		Int64("model_version", pred.ModelVersion).
		Msg("triage session complete")
	s.event("completed")
	return nil
}

func (s *Service) validatePatient(p PatientContext) error {
	if p.Age < 0 || p.Age > 120 {
		return fmt.Errorf("%w: age must be between 0 and 120", ErrValidation)
	}
	switch p.Gender {
	case "male", "female", "other":
	default:
		return fmt.Errorf("%w: gender must be male, female or other", ErrValidation)
	}
	return nil
}

func (s *Service) validateReport(r SymptomReport) error {
	if !s.base.HasSymptom(r.Symptom) {
		return fmt.Errorf("%w: unknown symptom %q", ErrValidation, r.Symptom)
	}
	if r.Negative {
		return nil
	}
	if r.Severity < 1 || r.Severity > 10 {
		return fmt.Errorf("%w: severity for %q must be between 1 and 10", ErrValidation, r.Symptom)
	}
	if r.DurationDays < 0 {
		return fmt.Errorf("%w: duration for %q cannot be negative", ErrValidation, r.Symptom)
	}
	return nil
}

func (s *Service) acquire(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}
	s.inflight[id] = struct{}{}
	return nil
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func mlPatient(p PatientContext) ml.Patient {
	return ml.Patient{Age: p.Age, Gender: p.Gender, ExistingConditions: p.ExistingConditions}
}

func mlObservations(reports []SymptomReport) []ml.Observation {
	out := make([]ml.Observation, 0, len(reports))
	for _, r := range reports {
		out = append(out, ml.Observation{Symptom: r.Symptom, Severity: r.Severity, DurationDays: r.DurationDays})
	}
	return out
}
