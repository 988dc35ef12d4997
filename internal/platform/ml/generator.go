package ml

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/triage/triage/internal/platform/knowledge"
)

// CaseGenerator produces labeled synthetic training cases by sampling the
// knowledge base's probability tables. Identical (seed, n, base) input
// reproduces identical output; reproducible training depends on it.
type CaseGenerator struct {
	base *knowledge.Base
	rng  *rand.Rand

	// BaseRates optionally weights condition sampling. Conditions absent
	// from the map get weight zero; nil means uniform.
	BaseRates map[string]float64
}

// NewCaseGenerator creates a generator with a deterministic source.
func NewCaseGenerator(base *knowledge.Base, seed int64) *CaseGenerator {
	return &CaseGenerator{
		base: base,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Generate produces n labeled cases.
func (g *CaseGenerator) Generate(n int) ([]Case, error) {
	conditions := g.base.Conditions()
	if len(conditions) == 0 {
		return nil, fmt.Errorf("%w: empty knowledge base", ErrTrainingFailure)
	}

	cases := make([]Case, 0, n)
	for i := 0; i < n; i++ {
		c, err := g.pickCondition(conditions)
		if err != nil {
			return nil, err
		}
		cases = append(cases, g.generateCase(c))
	}
	return cases, nil
}

func (g *CaseGenerator) pickCondition(conditions []*knowledge.Condition) (*knowledge.Condition, error) {
	if g.BaseRates == nil {
		return conditions[g.rng.Intn(len(conditions))], nil
	}
	var total float64
	for _, c := range conditions {
		total += g.BaseRates[c.Name]
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: base rates sum to zero", ErrTrainingFailure)
	}
	r := g.rng.Float64() * total
	for _, c := range conditions {
		r -= g.BaseRates[c.Name]
		if r < 0 {
			return c, nil
		}
	}
	return conditions[len(conditions)-1], nil
}

func (g *CaseGenerator) generateCase(c *knowledge.Condition) Case {
	// Symptom names in sorted order so the draw sequence is reproducible.
	names := make([]string, 0, len(c.Symptoms))
	for s := range c.Symptoms {
		names = append(names, s)
	}
	sort.Strings(names)

	var primary, secondary []string
	for _, s := range names {
		if c.Symptoms[s].Probability > 0.6 {
			primary = append(primary, s)
		} else {
			secondary = append(secondary, s)
		}
	}

	numSymptoms := 2 + g.rng.Intn(4) // 2..5
	numPrimary := numSymptoms/2 + 1
	if numPrimary > len(primary) {
		numPrimary = len(primary)
	}

	selected := g.sample(primary, numPrimary)
	remaining := numSymptoms - len(selected)
	if remaining > len(secondary) {
		remaining = len(secondary)
	}
	if remaining > 0 {
		selected = append(selected, g.sample(secondary, remaining)...)
	}

	observations := make([]Observation, 0, len(selected))
	for _, s := range selected {
		link := c.Symptoms[s]
		observations = append(observations, Observation{
			Symptom:      s,
			Severity:     g.severity(link),
			DurationDays: 1 + g.rng.Intn(29),
		})
	}

	age := g.age(c.AgeGroups)
	return Case{
		Patient: Patient{
			Age:                age,
			Gender:             g.gender(c.GenderBias),
			ExistingConditions: g.comorbidities(age),
		},
		Observations: observations,
		Condition:    c.Name,
		Urgency:      c.Urgency,
	}
}

// sample draws k distinct elements preserving no particular order but a
// deterministic draw sequence.
func (g *CaseGenerator) sample(pool []string, k int) []string {
	if k >= len(pool) {
		return append([]string(nil), pool...)
	}
	idx := g.rng.Perm(len(pool))[:k]
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

// severity draws from the link's typical range; a stronger association
// means a higher floor, matching how the probability tables were built.
func (g *CaseGenerator) severity(link knowledge.SymptomLink) int {
	lo, hi := link.MinSeverity, link.MaxSeverity
	if lo < 1 {
		lo = int(link.Probability*6) + 1
	}
	if hi < lo {
		hi = 10
	}
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *CaseGenerator) age(groups []string) int {
	pick := "all"
	if len(groups) > 0 {
		pick = groups[g.rng.Intn(len(groups))]
	}
	switch pick {
	case "child":
		return 2 + g.rng.Intn(16) // 2..17
	case "adult":
		return 18 + g.rng.Intn(47) // 18..64
	case "elderly":
		return 65 + g.rng.Intn(25) // 65..89
	default:
		return 2 + g.rng.Intn(88) // 2..89
	}
}

func (g *CaseGenerator) gender(bias string) string {
	switch bias {
	case "female":
		if g.rng.Float64() < 0.7 {
			return "female"
		}
		return "male"
	case "male":
		if g.rng.Float64() < 0.7 {
			return "male"
		}
		return "female"
	default:
		if g.rng.Float64() < 0.5 {
			return "male"
		}
		return "female"
	}
}

func (g *CaseGenerator) comorbidities(age int) []string {
	var out []string
	if age > 50 {
		if g.rng.Float64() < 0.3 {
			out = append(out, "hypertension")
		}
		if g.rng.Float64() < 0.2 {
			out = append(out, "diabetes_type_2")
		}
	}
	if age > 65 {
		if g.rng.Float64() < 0.2 {
			out = append(out, "arthritis")
		}
	}
	return out
}
