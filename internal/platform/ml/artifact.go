package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ModelArtifact is a versioned, immutable bundle of both trained classifiers
// plus the metadata the registry needs for promotion decisions. The physical
// encoding is JSON; the registry and store only ever write whole artifacts.
type ModelArtifact struct {
	ID                 uuid.UUID       `json:"id"`
	Version            int64           `json:"version"`
	TrainedAt          time.Time       `json:"trained_at"`
	ConditionModel     json.RawMessage `json:"condition_model"`
	UrgencyModel       json.RawMessage `json:"urgency_model"`
	VocabularyHash     string          `json:"vocabulary_hash"`
	TrainingSetSize    int             `json:"training_set_size"`
	ValidationAccuracy float64         `json:"validation_accuracy"`
}

// LoadedModel pairs an artifact with its decoded classifiers. Inference
// snapshots a LoadedModel once per call, so an in-flight prediction keeps
// the version it started with across promotions.
type LoadedModel struct {
	Artifact  *ModelArtifact
	Condition Classifier
	Urgency   Classifier
}

// Load decodes the artifact's classifiers. A corrupt artifact surfaces as
// ErrModelUnavailable.
func (a *ModelArtifact) Load() (*LoadedModel, error) {
	condition, err := UnmarshalClassifier(a.ConditionModel)
	if err != nil {
		return nil, fmt.Errorf("%w: condition classifier of v%d: %v", ErrModelUnavailable, a.Version, err)
	}
	urgency, err := UnmarshalClassifier(a.UrgencyModel)
	if err != nil {
		return nil, fmt.Errorf("%w: urgency classifier of v%d: %v", ErrModelUnavailable, a.Version, err)
	}
	return &LoadedModel{Artifact: a, Condition: condition, Urgency: urgency}, nil
}
