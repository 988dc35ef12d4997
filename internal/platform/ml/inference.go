package ml

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/platform/knowledge"
)

// Prediction knobs carried over from the source system's serving layer.
const (
	// DefaultTopK is how many top conditions contribute to the urgency score.
	DefaultTopK = 3
	// minReportedProbability filters noise conditions out of the ranking.
	minReportedProbability = 0.05
	// maxReportedConditions caps the ranking length.
	maxReportedConditions = 5
)

// Urgency score bands and their advice text.
const (
	AdviceEmergency  = "Seek immediate emergency medical attention"
	AdviceUrgentCare = "Contact your doctor or visit urgent care today"
	AdviceSoon       = "Schedule an appointment with your doctor within the next few days"
	AdviceSelfCare   = "Monitor symptoms and contact your healthcare provider if they worsen"
	AdviceDisclaimer = "This assessment is not a replacement for professional medical advice"
)

// ConditionScore is one entry of the ranked prediction.
type ConditionScore struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Urgency     int     `json:"urgency_level"`
	Specialist  string  `json:"specialist"`
}

// Prediction is the inference engine's output for one evidence set.
type Prediction struct {
	Conditions      []ConditionScore `json:"conditions"`
	UrgencyScore    float64          `json:"urgency_score"`
	Recommendations []string         `json:"recommendations"`
	Confidence      float64          `json:"confidence"`
	ModelVersion    int64            `json:"model_version"`
}

// Engine wraps the two classifiers behind the active registry artifact and
// produces ranked conditions, an urgency score and recommendations.
type Engine struct {
	registry *Registry
	encoder  *Encoder
	base     *knowledge.Base
	topK     int
	logger   zerolog.Logger
}

func NewEngine(registry *Registry, encoder *Encoder, base *knowledge.Base, topK int, logger zerolog.Logger) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{registry: registry, encoder: encoder, base: base, topK: topK, logger: logger}
}

// Predict runs both classifiers against the encoded evidence. The active
// model pointer is read exactly once; a promotion mid-call cannot mix model
// versions. Absent or stale artifacts surface as ErrModelUnavailable.
func (e *Engine) Predict(ctx context.Context, patient Patient, observations []Observation) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := e.registry.Active()
	if err != nil {
		return nil, err
	}
	if model.Artifact.VocabularyHash != e.encoder.VocabularyHash() {
		return nil, fmt.Errorf("%w: artifact v%d was trained against a different vocabulary",
			ErrModelUnavailable, model.Artifact.Version)
	}

	vec := e.encoder.Encode(patient, observations)

	conditionProbs, err := model.Condition.PredictProba(vec)
	if err != nil {
		return nil, err
	}
	urgencyProbs, err := model.Urgency.PredictProba(vec)
	if err != nil {
		return nil, err
	}

	ranked := e.rank(model.Condition.Classes(), conditionProbs)
	score := e.urgencyScore(urgencyProbs, model.Urgency.Classes(), ranked)

	var confidence float64
	for _, p := range conditionProbs {
		if p > confidence {
			confidence = p
		}
	}

	return &Prediction{
		Conditions:      ranked,
		UrgencyScore:    score,
		Recommendations: e.recommendations(score, ranked),
		Confidence:      confidence,
		ModelVersion:    model.Artifact.Version,
	}, nil
}

// rank orders conditions by descending probability, ties broken by ascending
// name for determinism, filtered and capped.
func (e *Engine) rank(classes []string, probs []float64) []ConditionScore {
	scored := make([]ConditionScore, 0, len(classes))
	for i, name := range classes {
		if probs[i] < minReportedProbability {
			continue
		}
		urgency := 0
		specialist := "general_practitioner"
		if c, ok := e.base.Condition(name); ok {
			urgency = c.Urgency
			specialist = c.Specialist
		}
		scored = append(scored, ConditionScore{
			Condition:   name,
			Probability: probs[i],
			Urgency:     urgency,
			Specialist:  specialist,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Probability != scored[j].Probability {
			return scored[i].Probability > scored[j].Probability
		}
		return scored[i].Condition < scored[j].Condition
	})
	if len(scored) > maxReportedConditions {
		scored = scored[:maxReportedConditions]
	}
	return scored
}

// urgencyScore blends the urgency classifier's most likely level with the
// probability-weighted urgency of the top-K ranked conditions, normalized to
// [0,1]. The weighting keeps the score monotonic in the contribution of the
// most urgent returned conditions.
func (e *Engine) urgencyScore(urgencyProbs []float64, urgencyClasses []string, ranked []ConditionScore) float64 {
	var predicted float64
	best := -1.0
	for i, class := range urgencyClasses {
		level, err := strconv.Atoi(class)
		if err != nil {
			continue
		}
		if urgencyProbs[i] > best {
			best = urgencyProbs[i]
			predicted = float64(level)
		}
	}

	var weighted, weight float64
	for i, c := range ranked {
		if i >= e.topK {
			break
		}
		weighted += c.Probability * float64(c.Urgency)
		weight += c.Probability
	}
	if weight > 0 {
		weighted /= weight
	} else {
		weighted = predicted
	}

	score := 0.5*predicted/float64(knowledge.UrgencyMax) + 0.5*weighted/float64(knowledge.UrgencyMax)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (e *Engine) recommendations(score float64, ranked []ConditionScore) []string {
	var out []string
	switch {
	case score >= 0.8:
		out = append(out, AdviceEmergency)
	case score >= 0.6:
		out = append(out, AdviceUrgentCare)
	case score >= 0.4:
		out = append(out, AdviceSoon)
	default:
		out = append(out, AdviceSelfCare)
	}
	if len(ranked) > 0 && ranked[0].Specialist != "" && ranked[0].Specialist != "general_practitioner" {
		out = append(out, fmt.Sprintf("Consider consulting a %s", ranked[0].Specialist))
	}
	out = append(out, AdviceDisclaimer)
	return out
}
