package feedback

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists feedback records. Feedback is append-only.
type Repository interface {
	Create(ctx context.Context, f *Feedback) error
	GetByID(ctx context.Context, id uuid.UUID) (*Feedback, error)
	List(ctx context.Context, limit, offset int) ([]*Feedback, int, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Feedback, error)
	// ListCorrections returns feedback carrying a confirmed condition, which
	// is the subset retraining can learn from.
	ListCorrections(ctx context.Context) ([]*Feedback, error)
}

// TrainingRunRepository records the audit log of retraining cycles.
type TrainingRunRepository interface {
	Create(ctx context.Context, r *TrainingRun) error
	Update(ctx context.Context, r *TrainingRun) error
	List(ctx context.Context, limit, offset int) ([]*TrainingRun, int, error)
	Latest(ctx context.Context) (*TrainingRun, error)
}
