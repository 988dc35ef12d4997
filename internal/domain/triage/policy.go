package triage

import (
	"math"
	"sort"

	"github.com/triage/triage/internal/platform/knowledge"
)

// DefaultMinInfoGain is the smallest expected information gain worth asking
// another question for.
const DefaultMinInfoGain = 0.01

// Policy selects the next follow-up question by expected information gain
// over a Bayesian posterior across the knowledge base's conditions.
type Policy struct {
	base    *knowledge.Base
	minGain float64
}

func NewPolicy(base *knowledge.Base, minGain float64) *Policy {
	if minGain <= 0 {
		minGain = DefaultMinInfoGain
	}
	return &Policy{base: base, minGain: minGain}
}

// Question is a selected follow-up question with its expected gain in bits.
type Question struct {
	Symptom string  `json:"symptom"`
	Gain    float64 `json:"expected_information_gain"`
}

// Posterior computes P(condition | evidence) from demographic-adjusted
// priors and the knowledge base's symptom probabilities. A negative report
// contributes (1 - p), a positive report contributes p, with the epsilon
// floor standing in for symptoms a condition's table does not mention.
func (p *Policy) Posterior(patient PatientContext, reports []SymptomReport) map[string]float64 {
	conditions := p.base.Conditions()
	posterior := make(map[string]float64, len(conditions))

	var total float64
	for _, c := range conditions {
		weight := c.PrevalenceMultiplier(patient.Age, patient.Gender)
		for _, r := range reports {
			prob := p.base.SymptomProbability(c.Name, r.Symptom)
			if r.Negative {
				prob = 1 - prob
			}
			weight *= prob
		}
		posterior[c.Name] = weight
		total += weight
	}
	if total <= 0 {
		// Degenerate evidence: fall back to a uniform posterior.
		uniform := 1.0 / float64(len(conditions))
		for name := range posterior {
			posterior[name] = uniform
		}
		return posterior
	}
	for name := range posterior {
		posterior[name] /= total
	}
	return posterior
}

// Confidence is the probability of the leading condition under the posterior.
func (p *Policy) Confidence(posterior map[string]float64) float64 {
	var best float64
	for _, prob := range posterior {
		if prob > best {
			best = prob
		}
	}
	return best
}

// TopCondition returns the posterior's leading condition, ties broken by
// ascending name.
func (p *Policy) TopCondition(posterior map[string]float64) string {
	var top string
	best := -1.0
	names := make([]string, 0, len(posterior))
	for name := range posterior {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if posterior[name] > best {
			best = posterior[name]
			top = name
		}
	}
	return top
}

// NextQuestion picks the unasked symptom whose answer is expected to reduce
// posterior entropy the most. It returns false when no candidate clears the
// minimum gain, which is one of the session's stopping conditions. Symptoms
// already reported, positively or negatively, are never asked again.
func (p *Policy) NextQuestion(patient PatientContext, reports []SymptomReport) (Question, bool) {
	posterior := p.Posterior(patient, reports)
	current := entropy(posterior)

	asked := make(map[string]bool, len(reports))
	for _, r := range reports {
		asked[r.Symptom] = true
	}

	best := Question{Gain: -1}
	for _, symptom := range p.base.AllSymptoms() {
		if asked[symptom] {
			continue
		}
		gain := current - p.expectedEntropy(posterior, patient, reports, symptom)
		// Ties break toward the earlier symptom name; AllSymptoms is sorted.
		if gain > best.Gain {
			best = Question{Symptom: symptom, Gain: gain}
		}
	}
	if best.Gain < p.minGain {
		return Question{}, false
	}
	return best, true
}

// expectedEntropy is the entropy of the posterior after asking about a
// symptom, averaged over the two possible answers weighted by their
// predicted likelihood.
func (p *Policy) expectedEntropy(posterior map[string]float64, patient PatientContext, reports []SymptomReport, symptom string) float64 {
	var pYes float64
	for name, prob := range posterior {
		pYes += prob * p.base.SymptomProbability(name, symptom)
	}
	pNo := 1 - pYes

	var expected float64
	if pYes > 0 {
		yes := append(append([]SymptomReport(nil), reports...), SymptomReport{Symptom: symptom})
		expected += pYes * entropy(p.Posterior(patient, yes))
	}
	if pNo > 0 {
		no := append(append([]SymptomReport(nil), reports...), SymptomReport{Symptom: symptom, Negative: true})
		expected += pNo * entropy(p.Posterior(patient, no))
	}
	return expected
}

// entropy is Shannon entropy in bits.
func entropy(dist map[string]float64) float64 {
	var h float64
	for _, p := range dist {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}
