package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/triage/triage/internal/domain/feedback"
	"github.com/triage/triage/internal/domain/triage"
)

// completedSession persists a completed session to satisfy the foreign key
// on session_feedback.
func completedSession(t *testing.T, ctx context.Context) *triage.Session {
	t.Helper()
	repo := triage.NewSessionRepoPG(globalDB.Pool)
	sess := newSession(uuid.New())
	if err := repo.Create(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.State = triage.StateComplete
	if err := repo.Update(ctx, sess); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	return sess
}

func TestFeedbackRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	repo := feedback.NewRepoPG(globalDB.Pool)
	sess := completedSession(t, ctx)

	f := &feedback.Feedback{
		SessionID:          sess.ID,
		PatientID:          sess.PatientID,
		Accurate:           false,
		ConfirmedCondition: "pneumonia",
		Note:               "diagnosed at urgent care",
	}
	if err := repo.Create(ctx, f); err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	if f.ID == uuid.Nil {
		t.Fatal("expected id to be assigned on create")
	}

	got, err := repo.GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if got.SessionID != sess.ID || got.ConfirmedCondition != "pneumonia" {
		t.Errorf("feedback roundtrip mismatch: %+v", got)
	}
	if got.Accurate {
		t.Error("expected accurate=false")
	}
}

func TestFeedbackRepo_ListCorrections(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	repo := feedback.NewRepoPG(globalDB.Pool)
	sess := completedSession(t, ctx)

	// One plain confirmation, one correction.
	if err := repo.Create(ctx, &feedback.Feedback{
		SessionID: sess.ID, PatientID: sess.PatientID, Accurate: true,
	}); err != nil {
		t.Fatalf("create confirmation: %v", err)
	}
	if err := repo.Create(ctx, &feedback.Feedback{
		SessionID: sess.ID, PatientID: sess.PatientID,
		Accurate: false, ConfirmedCondition: "migraine",
	}); err != nil {
		t.Fatalf("create correction: %v", err)
	}

	corrections, err := repo.ListCorrections(ctx)
	if err != nil {
		t.Fatalf("list corrections: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	if corrections[0].ConfirmedCondition != "migraine" {
		t.Errorf("expected migraine, got %s", corrections[0].ConfirmedCondition)
	}

	items, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 feedback rows, got total=%d len=%d", total, len(items))
	}
}

func TestTrainingRunRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetTables(t, ctx)
	repo := feedback.NewTrainingRunRepoPG(globalDB.Pool)

	run := &feedback.TrainingRun{
		StartedAt: time.Now().UTC(),
		Outcome:   feedback.OutcomeFailed,
		Error:     "not enough cases",
	}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Outcome = feedback.OutcomePromoted
	run.ModelVersion = 2
	run.TrainingSetSize = 5000
	run.ValidationAccuracy = 0.91
	run.FeedbackApplied = 12
	run.Error = ""
	if err := repo.Update(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != run.ID {
		t.Errorf("expected latest run %s, got %s", run.ID, latest.ID)
	}
	if latest.Outcome != feedback.OutcomePromoted || latest.ModelVersion != 2 {
		t.Errorf("run roundtrip mismatch: %+v", latest)
	}
	if latest.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	_, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 run, got %d", total)
	}
}
