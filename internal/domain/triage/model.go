package triage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/triage/triage/internal/platform/ml"
)

// SessionState is the lifecycle state of a diagnostic session.
type SessionState string

const (
	StateCollectingInitial SessionState = "collecting_initial"
	StateQuestioning       SessionState = "questioning"
	StateComplete          SessionState = "complete"
	StateAbandoned         SessionState = "abandoned"
	StateFailed            SessionState = "failed"
)

// validTransitions is the full session state graph. Terminal states have no
// outgoing edges.
var validTransitions = map[SessionState][]SessionState{
	StateCollectingInitial: {StateQuestioning, StateComplete, StateAbandoned, StateFailed},
	StateQuestioning:       {StateComplete, StateAbandoned, StateFailed},
	StateComplete:          {},
	StateAbandoned:         {},
	StateFailed:            {},
}

// CanTransition reports whether from -> to is an edge of the session graph.
func CanTransition(from, to SessionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further answers.
func (s SessionState) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// PatientContext is the demographic and history context gathered at the
// start of a session.
type PatientContext struct {
	Age                int      `json:"age"`
	Gender             string   `json:"gender"`
	ExistingConditions []string `json:"existing_conditions,omitempty"`
}

// SymptomReport is one reported or denied symptom. Negative reports come
// from "no" answers to follow-up questions and carry no severity.
type SymptomReport struct {
	Symptom      string `json:"symptom"`
	Severity     int    `json:"severity,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
	Negative     bool   `json:"negative,omitempty"`
}

// Session maps to the triage_session table. Reports, patient context and the
// final result are stored as JSONB documents.
type Session struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	State           SessionState    `db:"state" json:"state"`
	Patient         PatientContext  `db:"patient" json:"patient"`
	Reports         []SymptomReport `db:"reports" json:"reports"`
	QuestionsAsked  int             `db:"questions_asked" json:"questions_asked"`
	PendingQuestion string          `db:"pending_question" json:"pending_question,omitempty"`
	Result          *ml.Prediction  `db:"result" json:"result,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Transition moves the session to a new state, enforcing the state graph.
func (s *Session) Transition(to SessionState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrSessionState, s.State, to)
	}
	s.State = to
	if to == StateComplete || to == StateAbandoned || to == StateFailed {
		now := time.Now()
		s.CompletedAt = &now
		s.PendingQuestion = ""
	}
	return nil
}

// Reported reports whether the symptom already appears in the session,
// positively or negatively.
func (s *Session) Reported(symptom string) bool {
	for _, r := range s.Reports {
		if r.Symptom == symptom {
			return true
		}
	}
	return false
}

// PositiveReports returns the confirmed symptoms only, which is what the
// inference encoder consumes.
func (s *Session) PositiveReports() []SymptomReport {
	out := make([]SymptomReport, 0, len(s.Reports))
	for _, r := range s.Reports {
		if !r.Negative {
			out = append(out, r)
		}
	}
	return out
}
