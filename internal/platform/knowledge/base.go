// Package knowledge holds the symptom knowledge base: the reference catalog
// of conditions, their symptom-probability tables, urgency levels, specialist
// mappings and demographic prevalence modifiers. The base is read-only at
// inference time; retraining takes an independent snapshot.
package knowledge

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultEpsilon is returned for (condition, symptom) pairs absent from the
// probability table. A small non-zero floor keeps Bayesian scoring from
// locking a condition out on a single unexpected symptom.
const DefaultEpsilon = 0.02

// Urgency levels are ordinal: 1 = self-care, 5 = emergency.
const (
	UrgencyMin = 1
	UrgencyMax = 5
)

var (
	ErrEmptyBase        = errors.New("knowledge base has no conditions")
	ErrUnknownCondition = errors.New("unknown condition")
)

// SymptomLink describes how strongly a symptom is associated with a
// condition: the probability of the symptom being present when the patient
// has the condition, and the typical severity range on the 1-10 scale.
type SymptomLink struct {
	Probability float64 `yaml:"probability" json:"probability"`
	MinSeverity int     `yaml:"min_severity,omitempty" json:"min_severity,omitempty"`
	MaxSeverity int     `yaml:"max_severity,omitempty" json:"max_severity,omitempty"`
}

// Condition is one diagnosable condition in the catalog. Immutable reference
// data, identified by Name.
type Condition struct {
	Name       string                 `yaml:"name" json:"name"`
	Symptoms   map[string]SymptomLink `yaml:"symptoms" json:"symptoms"`
	Urgency    int                    `yaml:"urgency" json:"urgency"`
	Specialist string                 `yaml:"specialist" json:"specialist"`
	AgeGroups  []string               `yaml:"age_groups" json:"age_groups"`
	GenderBias string                 `yaml:"gender_bias" json:"gender_bias"`
}

// AgeGroup returns the canonical age group for an age in years.
func AgeGroup(age int) string {
	switch {
	case age < 18:
		return "child"
	case age < 65:
		return "adult"
	default:
		return "elderly"
	}
}

// hasAgeGroup reports whether the condition lists the group (or "all").
func (c *Condition) hasAgeGroup(group string) bool {
	for _, g := range c.AgeGroups {
		if g == "all" || g == group {
			return true
		}
	}
	return len(c.AgeGroups) == 0
}

// PrevalenceMultiplier scales a condition's prior for the given demographics.
// A condition outside its typical age groups is damped, not excluded; gender
// bias follows the 70/30 split of the source tables.
func (c *Condition) PrevalenceMultiplier(age int, gender string) float64 {
	m := 1.0
	if !c.hasAgeGroup(AgeGroup(age)) {
		m *= 0.5
	}
	switch c.GenderBias {
	case "", "none":
	case gender:
		m *= 1.4
	default:
		m *= 0.6
	}
	return m
}

// Base is the immutable knowledge base. The symptom vocabulary is the sorted
// union of every condition's symptom table plus any extra vocabulary supplied
// at construction; its ordering defines the feature-vector layout.
type Base struct {
	conditions map[string]*Condition
	ordered    []*Condition
	vocabulary []string
}

// New builds and validates a Base. Extra vocabulary entries let the base
// carry symptoms no condition references (they still become questions and
// feature slots).
func New(conditions []Condition, extraVocabulary ...string) (*Base, error) {
	if len(conditions) == 0 {
		return nil, ErrEmptyBase
	}

	byName := make(map[string]*Condition, len(conditions))
	vocab := make(map[string]struct{})
	for i := range conditions {
		c := conditions[i]
		if c.Name == "" {
			return nil, fmt.Errorf("condition %d: name is required", i)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate condition %q", c.Name)
		}
		if c.Urgency < UrgencyMin || c.Urgency > UrgencyMax {
			return nil, fmt.Errorf("condition %q: urgency %d outside [%d,%d]", c.Name, c.Urgency, UrgencyMin, UrgencyMax)
		}
		if len(c.Symptoms) == 0 {
			return nil, fmt.Errorf("condition %q: no symptoms", c.Name)
		}
		for s, link := range c.Symptoms {
			if link.Probability < 0 || link.Probability > 1 {
				return nil, fmt.Errorf("condition %q symptom %q: probability %v outside [0,1]", c.Name, s, link.Probability)
			}
			vocab[s] = struct{}{}
		}
		byName[c.Name] = &c
	}
	for _, s := range extraVocabulary {
		vocab[s] = struct{}{}
	}

	ordered := make([]*Condition, 0, len(byName))
	for _, c := range byName {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	symptoms := make([]string, 0, len(vocab))
	for s := range vocab {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)

	return &Base{conditions: byName, ordered: ordered, vocabulary: symptoms}, nil
}

// Conditions returns all conditions sorted by name.
func (b *Base) Conditions() []*Condition {
	return b.ordered
}

// Condition looks up a condition by name.
func (b *Base) Condition(name string) (*Condition, bool) {
	c, ok := b.conditions[name]
	return c, ok
}

// AllSymptoms returns the full symptom vocabulary in stable sorted order.
func (b *Base) AllSymptoms() []string {
	return b.vocabulary
}

// HasSymptom reports whether the symptom belongs to the vocabulary.
func (b *Base) HasSymptom(symptom string) bool {
	i := sort.SearchStrings(b.vocabulary, symptom)
	return i < len(b.vocabulary) && b.vocabulary[i] == symptom
}

// SymptomProbability returns P(symptom present | condition), falling back to
// DefaultEpsilon for pairs absent from the table.
func (b *Base) SymptomProbability(condition, symptom string) float64 {
	c, ok := b.conditions[condition]
	if !ok {
		return DefaultEpsilon
	}
	link, ok := c.Symptoms[symptom]
	if !ok || link.Probability <= 0 {
		return DefaultEpsilon
	}
	return link.Probability
}

// Snapshot returns an independent deep copy. Retraining operates on the copy
// so a concurrently reloaded base can never shift under a running fit.
func (b *Base) Snapshot() *Base {
	conditions := make([]Condition, 0, len(b.ordered))
	for _, c := range b.ordered {
		cp := *c
		cp.Symptoms = make(map[string]SymptomLink, len(c.Symptoms))
		for s, link := range c.Symptoms {
			cp.Symptoms[s] = link
		}
		cp.AgeGroups = append([]string(nil), c.AgeGroups...)
		conditions = append(conditions, cp)
	}
	snap, _ := New(conditions, b.vocabulary...)
	return snap
}
