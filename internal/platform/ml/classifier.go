package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Classifier is the opaque capability both models satisfy: fit on labeled
// vectors, predict a probability distribution over the classes seen at fit
// time. Any concrete algorithm honoring this contract is substitutable.
type Classifier interface {
	Fit(X [][]float64, y []string) error
	PredictProba(x []float64) ([]float64, error)
	Classes() []string
}

// Algorithm identifiers recorded in serialized classifiers.
const (
	algorithmGaussianNB = "gaussian_nb"
	algorithmSoftmax    = "softmax_regression"
)

// classifierEnvelope is the serialized form: algorithm tag plus parameters.
type classifierEnvelope struct {
	Algorithm string          `json:"algorithm"`
	Params    json.RawMessage `json:"params"`
}

// MarshalClassifier serializes a fitted classifier to JSON.
func MarshalClassifier(c Classifier) ([]byte, error) {
	var env classifierEnvelope
	var err error
	switch m := c.(type) {
	case *GaussianNB:
		env.Algorithm = algorithmGaussianNB
		env.Params, err = json.Marshal(m.params)
	case *SoftmaxRegression:
		env.Algorithm = algorithmSoftmax
		env.Params, err = json.Marshal(m.params)
	default:
		return nil, fmt.Errorf("unsupported classifier type %T", c)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal classifier params: %w", err)
	}
	return json.Marshal(env)
}

// UnmarshalClassifier restores a classifier serialized by MarshalClassifier.
func UnmarshalClassifier(data []byte) (Classifier, error) {
	var env classifierEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode classifier envelope: %w", err)
	}
	switch env.Algorithm {
	case algorithmGaussianNB:
		m := &GaussianNB{}
		if err := json.Unmarshal(env.Params, &m.params); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", env.Algorithm, err)
		}
		return m, nil
	case algorithmSoftmax:
		m := &SoftmaxRegression{}
		if err := json.Unmarshal(env.Params, &m.params); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", env.Algorithm, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown classifier algorithm %q", env.Algorithm)
	}
}

// sortedClasses returns the distinct labels in ascending order. Class order
// fixes the meaning of every probability slice the classifier emits.
func sortedClasses(y []string) []string {
	seen := make(map[string]struct{})
	for _, label := range y {
		seen[label] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	return classes
}

// softmaxInPlace exponentiates shifted log-scores and normalizes to a
// probability distribution.
func softmaxInPlace(scores []float64) {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - max)
		sum += scores[i]
	}
	if sum == 0 {
		uniform := 1.0 / float64(len(scores))
		for i := range scores {
			scores[i] = uniform
		}
		return
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// ---------------------------------------------------------------------------
// Gaussian naive Bayes, the condition classifier
// ---------------------------------------------------------------------------

// varianceFloor keeps per-feature variances away from zero so constant
// features cannot produce infinite log-likelihoods.
const varianceFloor = 1e-4

type gaussianNBParams struct {
	ClassNames []string    `json:"classes"`
	LogPriors  []float64   `json:"log_priors"`
	Means      [][]float64 `json:"means"`     // [class][feature]
	Variances  [][]float64 `json:"variances"` // [class][feature]
}

// GaussianNB is a Gaussian naive Bayes classifier over dense feature vectors.
type GaussianNB struct {
	params gaussianNBParams
}

func NewGaussianNB() *GaussianNB { return &GaussianNB{} }

func (m *GaussianNB) Classes() []string { return m.params.ClassNames }

func (m *GaussianNB) Fit(X [][]float64, y []string) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: %d vectors for %d labels", ErrTrainingFailure, len(X), len(y))
	}
	nFeatures := len(X[0])
	classes := sortedClasses(y)
	classIdx := make(map[string]int, len(classes))
	for i, c := range classes {
		classIdx[c] = i
	}

	counts := make([]float64, len(classes))
	means := make([][]float64, len(classes))
	variances := make([][]float64, len(classes))
	for i := range classes {
		means[i] = make([]float64, nFeatures)
		variances[i] = make([]float64, nFeatures)
	}

	for i, vec := range X {
		if len(vec) != nFeatures {
			return fmt.Errorf("%w: ragged input at row %d", ErrTrainingFailure, i)
		}
		ci := classIdx[y[i]]
		counts[ci]++
		for f, v := range vec {
			means[ci][f] += v
		}
	}
	for ci := range classes {
		if counts[ci] == 0 {
			return fmt.Errorf("%w: class %q has no examples", ErrTrainingFailure, classes[ci])
		}
		for f := range means[ci] {
			means[ci][f] /= counts[ci]
		}
	}
	for i, vec := range X {
		ci := classIdx[y[i]]
		for f, v := range vec {
			d := v - means[ci][f]
			variances[ci][f] += d * d
		}
	}

	logPriors := make([]float64, len(classes))
	total := float64(len(y))
	for ci := range classes {
		for f := range variances[ci] {
			variances[ci][f] = variances[ci][f]/counts[ci] + varianceFloor
		}
		logPriors[ci] = math.Log(counts[ci] / total)
	}

	m.params = gaussianNBParams{
		ClassNames: classes,
		LogPriors:  logPriors,
		Means:      means,
		Variances:  variances,
	}
	return nil
}

func (m *GaussianNB) PredictProba(x []float64) ([]float64, error) {
	if len(m.params.ClassNames) == 0 {
		return nil, fmt.Errorf("%w: classifier not fitted", ErrModelUnavailable)
	}
	if len(x) != len(m.params.Means[0]) {
		return nil, fmt.Errorf("%w: vector length %d, expected %d", ErrModelUnavailable, len(x), len(m.params.Means[0]))
	}

	scores := make([]float64, len(m.params.ClassNames))
	for ci := range m.params.ClassNames {
		score := m.params.LogPriors[ci]
		for f, v := range x {
			mean := m.params.Means[ci][f]
			variance := m.params.Variances[ci][f]
			d := v - mean
			score += -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
		}
		scores[ci] = score
	}
	softmaxInPlace(scores)
	return scores, nil
}

// ---------------------------------------------------------------------------
// Softmax regression, the urgency classifier
// ---------------------------------------------------------------------------

// Fixed-schedule full-batch gradient descent keeps the fit deterministic for
// a given training set; no shuffling, no random initialization.
const (
	softmaxEpochs       = 300
	softmaxLearningRate = 0.5
)

type softmaxParams struct {
	ClassNames []string    `json:"classes"`
	Weights    [][]float64 `json:"weights"` // [class][feature+1], last slot is bias
}

// SoftmaxRegression is a multinomial logistic regression classifier.
type SoftmaxRegression struct {
	params softmaxParams
}

func NewSoftmaxRegression() *SoftmaxRegression { return &SoftmaxRegression{} }

func (m *SoftmaxRegression) Classes() []string { return m.params.ClassNames }

func (m *SoftmaxRegression) Fit(X [][]float64, y []string) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: %d vectors for %d labels", ErrTrainingFailure, len(X), len(y))
	}
	nFeatures := len(X[0])
	classes := sortedClasses(y)
	classIdx := make(map[string]int, len(classes))
	for i, c := range classes {
		classIdx[c] = i
	}

	weights := make([][]float64, len(classes))
	for i := range weights {
		weights[i] = make([]float64, nFeatures+1)
	}

	n := float64(len(X))
	scores := make([]float64, len(classes))
	grads := make([][]float64, len(classes))
	for i := range grads {
		grads[i] = make([]float64, nFeatures+1)
	}

	for epoch := 0; epoch < softmaxEpochs; epoch++ {
		for ci := range grads {
			for f := range grads[ci] {
				grads[ci][f] = 0
			}
		}
		for i, vec := range X {
			if len(vec) != nFeatures {
				return fmt.Errorf("%w: ragged input at row %d", ErrTrainingFailure, i)
			}
			for ci := range classes {
				s := weights[ci][nFeatures] // bias
				for f, v := range vec {
					s += weights[ci][f] * v
				}
				scores[ci] = s
			}
			softmaxInPlace(scores)
			target := classIdx[y[i]]
			for ci := range classes {
				err := scores[ci]
				if ci == target {
					err -= 1.0
				}
				for f, v := range vec {
					grads[ci][f] += err * v
				}
				grads[ci][nFeatures] += err
			}
		}
		for ci := range classes {
			for f := range weights[ci] {
				weights[ci][f] -= softmaxLearningRate * grads[ci][f] / n
			}
		}
	}

	m.params = softmaxParams{ClassNames: classes, Weights: weights}
	return nil
}

func (m *SoftmaxRegression) PredictProba(x []float64) ([]float64, error) {
	if len(m.params.ClassNames) == 0 {
		return nil, fmt.Errorf("%w: classifier not fitted", ErrModelUnavailable)
	}
	nFeatures := len(m.params.Weights[0]) - 1
	if len(x) != nFeatures {
		return nil, fmt.Errorf("%w: vector length %d, expected %d", ErrModelUnavailable, len(x), nFeatures)
	}
	scores := make([]float64, len(m.params.ClassNames))
	for ci := range m.params.ClassNames {
		s := m.params.Weights[ci][nFeatures]
		for f, v := range x {
			s += m.params.Weights[ci][f] * v
		}
		scores[ci] = s
	}
	softmaxInPlace(scores)
	return scores, nil
}
