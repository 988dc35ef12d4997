package triage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/platform/knowledge"
	"github.com/triage/triage/internal/platform/ml"
)

// -- Mocks --

type mockSessionRepo struct {
	sessions map[uuid.UUID]*Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[uuid.UUID]*Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *Session) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = s
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Update(_ context.Context, s *Session) error {
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var result []*Session
	for _, s := range m.sessions {
		if s.PatientID == patientID {
			result = append(result, s)
		}
	}
	return result, len(result), nil
}

func (m *mockSessionRepo) ListIdleBefore(_ context.Context, cutoff time.Time) ([]*Session, error) {
	var result []*Session
	for _, s := range m.sessions {
		if !s.State.Terminal() && s.UpdatedAt.Before(cutoff) {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}

type mockPredictor struct {
	err   error
	calls int
}

func (m *mockPredictor) Predict(_ context.Context, _ ml.Patient, _ []ml.Observation) (*ml.Prediction, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &ml.Prediction{
		Conditions:   []ml.ConditionScore{{Condition: "influenza", Probability: 0.8, Urgency: 2}},
		UrgencyScore: 0.4,
		Confidence:   0.8,
		ModelVersion: 1,
	}, nil
}

func newTestService() (*Service, *mockSessionRepo, *mockPredictor) {
	repo := newMockSessionRepo()
	predictor := &mockPredictor{}
	base := knowledge.Default()
	svc := NewService(repo, predictor, NewPolicy(base, DefaultMinInfoGain), base, Config{}, zerolog.Nop())
	return svc, repo, predictor
}

func validStart() StartInput {
	return StartInput{
		PatientID: uuid.New(),
		Patient:   PatientContext{Age: 35, Gender: "male"},
		Symptoms:  []SymptomReport{{Symptom: "fatigue", Severity: 5, DurationDays: 3}},
	}
}

// -- Start --

func TestStart_AsksFirstQuestion(t *testing.T) {
	svc, _, _ := newTestService()
	sess, err := svc.Start(context.Background(), validStart())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.State != StateQuestioning {
		t.Fatalf("expected questioning, got %s", sess.State)
	}
	if sess.PendingQuestion == "" {
		t.Fatal("expected a pending question")
	}
	if sess.PendingQuestion == "fatigue" {
		t.Error("must not ask about an already reported symptom")
	}
	if sess.QuestionsAsked != 0 {
		t.Errorf("no answers yet, QuestionsAsked = %d", sess.QuestionsAsked)
	}
}

func TestStart_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		in   StartInput
	}{
		{"missing patient id", StartInput{Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5}}}},
		{"negative age", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: -1, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5}}}},
		{"age too large", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 130, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5}}}},
		{"bad gender", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "unknown"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5}}}},
		{"no symptoms", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}}},
		{"unknown symptom", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "glowing", Severity: 5}}}},
		{"severity out of range", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 11}}}},
		{"negative duration", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5, DurationDays: -1}}}},
		{"negative initial report", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Negative: true}}}},
		{"duplicate symptom", StartInput{PatientID: uuid.New(), Patient: PatientContext{Age: 35, Gender: "male"}, Symptoms: []SymptomReport{{Symptom: "fever", Severity: 5}, {Symptom: "fever", Severity: 7}}}},
	}
	for _, tc := range cases {
		if _, err := svc.Start(ctx, tc.in); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestStart_NewbornAgeAccepted(t *testing.T) {
	svc, _, _ := newTestService()
	in := validStart()
	in.Patient.Age = 0

	sess, err := svc.Start(context.Background(), in)
	if err != nil {
		t.Fatalf("age 0 must be accepted: %v", err)
	}
	if sess.Patient.Age != 0 {
		t.Errorf("stored age = %d, want 0", sess.Patient.Age)
	}
}

// -- Answer loop --

func TestSubmitAnswer_WalksToCompletion(t *testing.T) {
	svc, _, predictor := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	asked := map[string]bool{"fatigue": true}
	answers := 0
	for sess.State == StateQuestioning {
		if asked[sess.PendingQuestion] {
			t.Fatalf("question %q repeated", sess.PendingQuestion)
		}
		asked[sess.PendingQuestion] = true
		sess, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{
			Symptom: sess.PendingQuestion,
			Present: answers%2 == 0,
			Severity: 6, DurationDays: 2,
		})
		if err != nil {
			t.Fatalf("answer %d: %v", answers, err)
		}
		answers++
		if answers > DefaultMaxQuestions {
			t.Fatalf("session exceeded the %d question budget", DefaultMaxQuestions)
		}
	}
	if sess.State != StateComplete {
		t.Fatalf("expected complete, got %s", sess.State)
	}
	if sess.Result == nil {
		t.Fatal("completed session must carry a result")
	}
	if predictor.calls != 1 {
		t.Errorf("inference ran %d times, expected once", predictor.calls)
	}
}

func TestSubmitAnswer_QuestionBudget(t *testing.T) {
	repo := newMockSessionRepo()
	predictor := &mockPredictor{}
	base := knowledge.Default()
	svc := NewService(repo, predictor, NewPolicy(base, 1e-12), base,
		Config{ConfidenceThreshold: 0.9999999, MaxQuestions: 3}, zerolog.Nop())
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers := 0
	for sess.State == StateQuestioning {
		sess, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{Symptom: sess.PendingQuestion, Present: false})
		if err != nil {
			t.Fatalf("answer %d: %v", answers, err)
		}
		answers++
		if answers > 3 {
			t.Fatal("budget of 3 questions not enforced")
		}
	}
	if answers != 3 {
		t.Errorf("expected exactly 3 answers before forced completion, got %d", answers)
	}
	if sess.State != StateComplete {
		t.Errorf("expected complete after budget, got %s", sess.State)
	}
}

func TestSubmitAnswer_WrongSymptom(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{Symptom: "rash", Present: true, Severity: 5})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for off-question answer, got %v", err)
	}
}

func TestSubmitAnswer_TerminalSession(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	stored := repo.sessions[sess.ID]
	stored.State = StateComplete

	_, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{Symptom: "fever", Present: true, Severity: 5})
	if !errors.Is(err, ErrSessionState) {
		t.Errorf("expected ErrSessionState, got %v", err)
	}
}

func TestSubmitAnswer_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.SubmitAnswer(context.Background(), uuid.New(), AnswerInput{Symptom: "fever"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitAnswer_Busy(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.acquire(sess.ID); err != nil {
		t.Fatal(err)
	}
	defer svc.release(sess.ID)

	_, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{Symptom: sess.PendingQuestion, Present: true, Severity: 5})
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
}

// -- Inference failure --

func TestComplete_ModelUnavailableFailsSession(t *testing.T) {
	repo := newMockSessionRepo()
	predictor := &mockPredictor{err: fmt.Errorf("predict: %w", ml.ErrModelUnavailable)}
	base := knowledge.Default()
	svc := NewService(repo, predictor, NewPolicy(base, DefaultMinInfoGain), base,
		Config{MaxQuestions: 1}, zerolog.Nop())
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	sess, err = svc.SubmitAnswer(ctx, sess.ID, AnswerInput{Symptom: sess.PendingQuestion, Present: false})
	if !errors.Is(err, ml.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	stored, gerr := repo.GetByID(ctx, sess.ID)
	if gerr != nil {
		t.Fatal(gerr)
	}
	if stored.State != StateFailed {
		t.Errorf("expected failed session, got %s", stored.State)
	}
}

// -- Abandon --

func TestAbandon(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Abandon(ctx, sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateAbandoned {
		t.Errorf("expected abandoned, got %s", got.State)
	}
	if got.CompletedAt == nil {
		t.Error("abandoned session must stamp CompletedAt")
	}

	repo.sessions[sess.ID].State = StateComplete
	if _, err := svc.Abandon(ctx, sess.ID); !errors.Is(err, ErrSessionState) {
		t.Errorf("expected ErrSessionState abandoning a complete session, got %v", err)
	}
}

// -- Idle sweep --

func TestExpireIdle(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Start(ctx, validStart())
	if err != nil {
		t.Fatal(err)
	}
	repo.sessions[sess.ID].UpdatedAt = time.Now().Add(-time.Hour)

	expired, err := svc.ExpireIdle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired session, got %d", expired)
	}
	if repo.sessions[sess.ID].State != StateAbandoned {
		t.Error("idle session not abandoned")
	}
	if repo.sessions[fresh.ID].State != StateQuestioning {
		t.Error("active session must survive the sweep")
	}
}

// -- History --

func TestHistory(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	in := validStart()
	if _, err := svc.Start(ctx, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Start(ctx, in); err != nil {
		t.Fatal(err)
	}

	items, total, err := svc.History(ctx, in.PatientID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 sessions, got %d (total %d)", len(items), total)
	}
	if _, _, err := svc.History(ctx, uuid.Nil, 20, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing patient id, got %v", err)
	}
}
