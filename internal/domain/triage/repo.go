package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionRepository persists diagnostic sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error)
	// ListIdleBefore returns non-terminal sessions not touched since the
	// cutoff; the idle sweeper abandons them.
	ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
