package triage

import "testing"

func TestCanTransition_Graph(t *testing.T) {
	allowed := []struct{ from, to SessionState }{
		{StateCollectingInitial, StateQuestioning},
		{StateCollectingInitial, StateComplete},
		{StateCollectingInitial, StateAbandoned},
		{StateCollectingInitial, StateFailed},
		{StateQuestioning, StateComplete},
		{StateQuestioning, StateAbandoned},
		{StateQuestioning, StateFailed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	terminals := []SessionState{StateComplete, StateAbandoned, StateFailed}
	targets := []SessionState{StateCollectingInitial, StateQuestioning, StateComplete, StateAbandoned, StateFailed}
	for _, from := range terminals {
		if !from.Terminal() {
			t.Errorf("expected %s to be terminal", from)
		}
		for _, to := range targets {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s must not transition to %s", from, to)
			}
		}
	}

	if CanTransition(StateQuestioning, StateCollectingInitial) {
		t.Error("questioning must not return to collecting_initial")
	}
}

func TestSession_Transition(t *testing.T) {
	s := &Session{State: StateCollectingInitial}
	if err := s.Transition(StateQuestioning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CompletedAt != nil {
		t.Error("questioning is not terminal, CompletedAt must stay nil")
	}

	s.PendingQuestion = "fever"
	if err := s.Transition(StateComplete); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CompletedAt == nil {
		t.Error("terminal transition must stamp CompletedAt")
	}
	if s.PendingQuestion != "" {
		t.Error("terminal transition must clear the pending question")
	}

	err := s.Transition(StateQuestioning)
	if err == nil {
		t.Fatal("expected transition out of complete to fail")
	}
}

func TestSession_Reported(t *testing.T) {
	s := &Session{Reports: []SymptomReport{
		{Symptom: "fever", Severity: 7},
		{Symptom: "cough", Negative: true},
	}}
	if !s.Reported("fever") || !s.Reported("cough") {
		t.Error("both positive and negative reports count as reported")
	}
	if s.Reported("headache") {
		t.Error("unreported symptom")
	}
}

func TestSession_PositiveReports(t *testing.T) {
	s := &Session{Reports: []SymptomReport{
		{Symptom: "fever", Severity: 7},
		{Symptom: "cough", Negative: true},
		{Symptom: "fatigue", Severity: 5},
	}}
	got := s.PositiveReports()
	if len(got) != 2 {
		t.Fatalf("expected 2 positive reports, got %d", len(got))
	}
	for _, r := range got {
		if r.Negative {
			t.Errorf("negative report %s leaked through", r.Symptom)
		}
	}
}
