package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hyperparameters controls a training run. Zero values fall back to the
// defaults below.
type Hyperparameters struct {
	TestFraction float64 // held-out share of the stratified split
	Seed         int64   // split shuffling seed
	MinCases     int     // minimum total cases required to fit
}

const (
	defaultTestFraction = 0.2
	defaultSplitSeed    = 42
	// DefaultMinTrainingCases is the floor below which training fails
	// rather than producing a meaningless artifact.
	DefaultMinTrainingCases = 50
)

func (hp *Hyperparameters) applyDefaults() {
	if hp.TestFraction <= 0 || hp.TestFraction >= 1 {
		hp.TestFraction = defaultTestFraction
	}
	if hp.Seed == 0 {
		hp.Seed = defaultSplitSeed
	}
	if hp.MinCases <= 0 {
		hp.MinCases = DefaultMinTrainingCases
	}
}

// Trainer fits both classifiers from encoded cases and computes held-out
// validation accuracy on a stratified split.
type Trainer struct {
	encoder *Encoder
	logger  zerolog.Logger
}

func NewTrainer(encoder *Encoder, logger zerolog.Logger) *Trainer {
	return &Trainer{encoder: encoder, logger: logger}
}

// Train fits the condition and urgency classifiers and returns an artifact.
// The context is checked between phases; training aborts between cases, not
// mid-fit. The returned artifact has no version; the registry assigns one.
func (t *Trainer) Train(ctx context.Context, cases []Case, hp Hyperparameters) (*ModelArtifact, error) {
	hp.applyDefaults()

	if len(cases) < hp.MinCases {
		return nil, fmt.Errorf("%w: %d cases, need at least %d", ErrTrainingFailure, len(cases), hp.MinCases)
	}

	X := make([][]float64, 0, len(cases))
	yCondition := make([]string, 0, len(cases))
	yUrgency := make([]string, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training canceled: %w", err)
		}
		X = append(X, t.encoder.Encode(c.Patient, c.Observations))
		yCondition = append(yCondition, c.Condition)
		yUrgency = append(yUrgency, strconv.Itoa(c.Urgency))
	}

	trainIdx, testIdx, err := stratifiedSplit(yCondition, hp.TestFraction, hp.Seed)
	if err != nil {
		return nil, err
	}

	trainX := index(X, trainIdx)
	condition := NewGaussianNB()
	if err := condition.Fit(trainX, indexStr(yCondition, trainIdx)); err != nil {
		return nil, fmt.Errorf("fit condition classifier: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("training canceled: %w", err)
	}
	urgency := NewSoftmaxRegression()
	if err := urgency.Fit(trainX, indexStr(yUrgency, trainIdx)); err != nil {
		return nil, fmt.Errorf("fit urgency classifier: %w", err)
	}

	accuracy, err := holdoutAccuracy(condition, index(X, testIdx), indexStr(yCondition, testIdx))
	if err != nil {
		return nil, fmt.Errorf("validate condition classifier: %w", err)
	}

	conditionRaw, err := MarshalClassifier(condition)
	if err != nil {
		return nil, fmt.Errorf("serialize condition classifier: %w", err)
	}
	urgencyRaw, err := MarshalClassifier(urgency)
	if err != nil {
		return nil, fmt.Errorf("serialize urgency classifier: %w", err)
	}

	t.logger.Info().
		Int("cases", len(cases)).
		Int("train", len(trainIdx)).
		Int("holdout", len(testIdx)).
		Float64("validation_accuracy", accuracy).
		Msg("training completed")

	return &ModelArtifact{
		ID:                 uuid.New(),
		TrainedAt:          time.Now().UTC(),
		ConditionModel:     conditionRaw,
		UrgencyModel:       urgencyRaw,
		VocabularyHash:     t.encoder.VocabularyHash(),
		TrainingSetSize:    len(trainIdx),
		ValidationAccuracy: accuracy,
	}, nil
}

// stratifiedSplit partitions indices into train/test keeping each label's
// share. Deterministic for a given seed; every label must appear at least
// twice so both partitions can be served.
func stratifiedSplit(labels []string, testFraction float64, seed int64) (train, test []int, err error) {
	byLabel := make(map[string][]int)
	for i, label := range labels {
		byLabel[label] = append(byLabel[label], i)
	}

	names := make([]string, 0, len(byLabel))
	for label := range byLabel {
		names = append(names, label)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	for _, label := range names {
		idx := byLabel[label]
		if len(idx) < 2 {
			return nil, nil, fmt.Errorf("%w: label %q has %d example(s), need 2", ErrTrainingFailure, label, len(idx))
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(float64(len(idx)) * testFraction)
		if nTest < 1 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

func holdoutAccuracy(c Classifier, X [][]float64, y []string) (float64, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: empty holdout set", ErrTrainingFailure)
	}
	classes := c.Classes()
	var correct int
	for i, x := range X {
		probs, err := c.PredictProba(x)
		if err != nil {
			return 0, err
		}
		best := 0
		for j := range probs {
			if probs[j] > probs[best] {
				best = j
			}
		}
		if classes[best] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X)), nil
}

func index(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, 0, len(idx))
	for _, i := range idx {
		out = append(out, X[i])
	}
	return out
}

func indexStr(y []string, idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, y[i])
	}
	return out
}
