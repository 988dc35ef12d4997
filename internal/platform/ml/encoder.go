package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/triage/triage/internal/platform/knowledge"
)

// comorbidityCategories are the pre-existing-condition indicator slots, in
// fixed order. Changing this list invalidates trained artifacts just like a
// vocabulary change does.
var comorbidityCategories = []string{
	"hypertension",
	"diabetes_type_2",
	"arthritis",
	"asthma",
	"heart_disease",
}

// demographicSlots is the number of non-symptom, non-comorbidity slots
// (normalized age and the gender indicator).
const demographicSlots = 2

// Encoder converts patient context and symptom observations into the
// fixed-width numeric feature vector shared by training and inference. The
// slot layout is derived from the knowledge base vocabulary at construction
// and never changes afterwards; encoding is pure.
type Encoder struct {
	vocabulary []string
	slotIndex  map[string]int
	hash       string
}

// NewEncoder builds an encoder over the base's symptom vocabulary.
func NewEncoder(base *knowledge.Base) *Encoder {
	vocab := base.AllSymptoms()
	idx := make(map[string]int, len(vocab))
	for i, s := range vocab {
		idx[s] = i
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(vocab, "\n")))
	h.Write([]byte("\n--\n"))
	h.Write([]byte(strings.Join(comorbidityCategories, "\n")))

	return &Encoder{
		vocabulary: vocab,
		slotIndex:  idx,
		hash:       hex.EncodeToString(h.Sum(nil)),
	}
}

// Len returns the feature vector width: one slot per vocabulary symptom plus
// the demographic and comorbidity slots.
func (e *Encoder) Len() int {
	return len(e.vocabulary) + demographicSlots + len(comorbidityCategories)
}

// VocabularyHash identifies the slot layout. Artifacts record it at training
// time; inference rejects artifacts trained against a different layout.
func (e *Encoder) VocabularyHash() string {
	return e.hash
}

// durationDecay scales a symptom's presence signal by how long it has been
// present. Fresh symptoms carry full weight; a month-old symptom half.
func durationDecay(days int) float64 {
	if days <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + float64(days)/30.0)
}

// Encode produces the feature vector for the given context and evidence.
// Symptoms outside the vocabulary are ignored; explicit negatives are not
// observations and simply leave their slot at zero.
func (e *Encoder) Encode(patient Patient, observations []Observation) []float64 {
	vec := make([]float64, e.Len())

	for _, obs := range observations {
		i, ok := e.slotIndex[obs.Symptom]
		if !ok {
			continue
		}
		sev := obs.Severity
		if sev < 1 {
			sev = 1
		}
		if sev > 10 {
			sev = 10
		}
		vec[i] = float64(sev) / 10.0 * durationDecay(obs.DurationDays)
	}

	base := len(e.vocabulary)
	age := float64(patient.Age) / 100.0
	if age < 0 {
		age = 0
	}
	if age > 1 {
		age = 1
	}
	vec[base] = age

	switch patient.Gender {
	case "female":
		vec[base+1] = 1.0
	case "male":
		vec[base+1] = 0.0
	default:
		vec[base+1] = 0.5
	}

	for i, cat := range comorbidityCategories {
		for _, existing := range patient.ExistingConditions {
			if existing == cat {
				vec[base+demographicSlots+i] = 1.0
				break
			}
		}
	}

	return vec
}
