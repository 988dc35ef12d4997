package feedback

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/domain/triage"
	"github.com/triage/triage/internal/platform/knowledge"
)

// SessionReader is the slice of the triage service feedback needs. Satisfied
// by *triage.Service.
type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*triage.Session, error)
}

// Service records feedback on triage sessions. Feedback is post-hoc and
// append-only; it attaches to any existing session whatever its state, and
// corrections feed the retraining scheduler.
type Service struct {
	repo     Repository
	sessions SessionReader
	base     *knowledge.Base
	logger   zerolog.Logger
}

func NewService(repo Repository, sessions SessionReader, base *knowledge.Base, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, base: base, logger: logger}
}

// SubmitInput is one piece of feedback on a session.
type SubmitInput struct {
	SessionID          uuid.UUID `json:"session_id"`
	Accurate           bool      `json:"accurate"`
	ConfirmedCondition string    `json:"confirmed_condition,omitempty"`
	Note               string    `json:"note,omitempty"`
}

// Submit validates the input, resolves the target session and records the
// feedback. Session state is not checked: feedback arrives after the fact,
// so abandoned and failed sessions take it too.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Feedback, error) {
	if in.SessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if in.ConfirmedCondition != "" {
		if _, ok := s.base.Condition(in.ConfirmedCondition); !ok {
			return nil, fmt.Errorf("%w: unknown condition %q", ErrValidation, in.ConfirmedCondition)
		}
	}

	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	f := &Feedback{
		SessionID:          in.SessionID,
		PatientID:          sess.PatientID,
		Accurate:           in.Accurate,
		ConfirmedCondition: in.ConfirmedCondition,
		Note:               in.Note,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create feedback: %w", err)
	}
	s.logger.Info().
		Str("session_id", in.SessionID.String()).
		Bool("accurate", in.Accurate).
		Str("confirmed_condition", in.ConfirmedCondition).
		Msg("session feedback recorded")
	return f, nil
}

// Get returns one feedback record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Feedback, error) {
	return s.repo.GetByID(ctx, id)
}

// List pages through all feedback, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Feedback, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListBySession returns the feedback left on one session.
func (s *Service) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Feedback, error) {
	return s.repo.ListBySession(ctx, sessionID)
}
