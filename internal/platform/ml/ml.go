// Package ml implements the triage engine's learning pipeline: feature
// encoding, the two classifiers (condition and urgency), synthetic case
// generation, training with held-out validation, versioned model artifacts
// with a promotion-gated registry, and the inference engine that turns a
// patient's evidence into a ranked prediction.
package ml

import "errors"

// Sentinel errors shared across the pipeline.
var (
	// ErrModelUnavailable means no active artifact exists, or the active
	// artifact cannot be deserialized or no longer matches the encoder's
	// vocabulary. Callers must surface it, never fall back to a guess.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrTrainingFailure means a fit could not be performed (too few cases,
	// a class without enough examples, degenerate inputs).
	ErrTrainingFailure = errors.New("training failure")

	// ErrRegressionRejected means a candidate artifact underperformed the
	// active one beyond the allowed tolerance. A policy decision, not a fault.
	ErrRegressionRejected = errors.New("promotion rejected: validation accuracy regression")

	// ErrArtifactNotFound means the requested version is not in the store.
	ErrArtifactNotFound = errors.New("model artifact not found")
)

// Patient carries the demographic inputs of the feature encoder.
type Patient struct {
	Age                int      `json:"age"`
	Gender             string   `json:"gender"`
	ExistingConditions []string `json:"existing_conditions,omitempty"`
}

// Observation is one positively reported symptom with its severity on the
// 1-10 scale and duration in days (0 when unknown).
type Observation struct {
	Symptom      string `json:"symptom"`
	Severity     int    `json:"severity"`
	DurationDays int    `json:"duration_days"`
}

// Case is one labeled training example.
type Case struct {
	Patient      Patient       `json:"patient"`
	Observations []Observation `json:"observations"`
	Condition    string        `json:"condition"`
	Urgency      int           `json:"urgency"`
}
