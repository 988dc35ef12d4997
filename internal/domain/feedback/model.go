package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Feedback maps to the session_feedback table. A confirmed condition, when
// present, becomes a corrected training case in the next retraining cycle.
type Feedback struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	SessionID          uuid.UUID `db:"session_id" json:"session_id"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	Accurate           bool      `db:"accurate" json:"accurate"`
	ConfirmedCondition string    `db:"confirmed_condition" json:"confirmed_condition,omitempty"`
	Note               string    `db:"note" json:"note,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Training run outcomes.
const (
	OutcomePromoted           = "promoted"
	OutcomeRejectedRegression = "rejected_regression"
	OutcomeFailed             = "failed"
)

// TrainingRun maps to the training_run table. One row per retraining cycle,
// whatever its outcome.
type TrainingRun struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	StartedAt          time.Time  `db:"started_at" json:"started_at"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Outcome            string     `db:"outcome" json:"outcome"`
	ModelVersion       int64      `db:"model_version" json:"model_version,omitempty"`
	TrainingSetSize    int        `db:"training_set_size" json:"training_set_size"`
	ValidationAccuracy float64    `db:"validation_accuracy" json:"validation_accuracy,omitempty"`
	FeedbackApplied    int        `db:"feedback_applied" json:"feedback_applied"`
	Error              string     `db:"error" json:"error,omitempty"`
}
