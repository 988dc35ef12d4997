package ml

import (
	"reflect"
	"testing"

	"github.com/triage/triage/internal/platform/knowledge"
)

func TestGenerate_Deterministic(t *testing.T) {
	base := knowledge.Default()
	a, err := NewCaseGenerator(base, 1234).Generate(50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewCaseGenerator(base, 1234).Generate(50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical seeds produced different case sets")
	}

	c, err := NewCaseGenerator(base, 5678).Generate(50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reflect.DeepEqual(a, c) {
		t.Error("different seeds produced identical case sets")
	}
}

func TestGenerate_CaseShape(t *testing.T) {
	base := knowledge.Default()
	cases, err := NewCaseGenerator(base, 7).Generate(200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cases) != 200 {
		t.Fatalf("expected 200 cases, got %d", len(cases))
	}

	for i, c := range cases {
		cond, ok := base.Condition(c.Condition)
		if !ok {
			t.Fatalf("case %d labeled with unknown condition %q", i, c.Condition)
		}
		if c.Urgency != cond.Urgency {
			t.Errorf("case %d urgency %d, condition says %d", i, c.Urgency, cond.Urgency)
		}
		if len(c.Observations) < 2 || len(c.Observations) > 5 {
			t.Errorf("case %d has %d observations, expected 2..5", i, len(c.Observations))
		}
		for _, obs := range c.Observations {
			if _, present := cond.Symptoms[obs.Symptom]; !present {
				t.Errorf("case %d observation %q not in condition table", i, obs.Symptom)
			}
			if obs.Severity < 1 || obs.Severity > 10 {
				t.Errorf("case %d severity %d outside 1..10", i, obs.Severity)
			}
			if obs.DurationDays < 1 || obs.DurationDays > 30 {
				t.Errorf("case %d duration %d outside 1..30", i, obs.DurationDays)
			}
		}
		if c.Patient.Age < 2 || c.Patient.Age > 89 {
			t.Errorf("case %d age %d outside 2..89", i, c.Patient.Age)
		}
		if c.Patient.Gender != "male" && c.Patient.Gender != "female" {
			t.Errorf("case %d unexpected gender %q", i, c.Patient.Gender)
		}
	}
}

func TestGenerate_RespectsAgeGroups(t *testing.T) {
	base := knowledge.Default()
	cases, err := NewCaseGenerator(base, 11).Generate(400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range cases {
		if c.Condition != "pneumonia" {
			continue
		}
		// Pneumonia lists child and elderly only.
		if c.Patient.Age >= 18 && c.Patient.Age < 65 {
			t.Errorf("case %d: pneumonia patient aged %d outside its age groups", i, c.Patient.Age)
		}
	}
}

func TestGenerate_BaseRates(t *testing.T) {
	base := knowledge.Default()
	g := NewCaseGenerator(base, 3)
	g.BaseRates = map[string]float64{"influenza": 1}
	cases, err := g.Generate(40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range cases {
		if c.Condition != "influenza" {
			t.Errorf("case %d: expected influenza only, got %q", i, c.Condition)
		}
	}

	g.BaseRates = map[string]float64{}
	if _, err := g.Generate(1); err == nil {
		t.Error("expected error for zero-sum base rates")
	}
}
