// Package intent classifies energy questions and picks the reply for them.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"wattsup/internal/domain"
)

// Artifact is the JSON export of a fitted vectorizer and multinomial naive
// Bayes model.
type Artifact struct {
	Classes        []string       `json:"classes"`
	Vectorizer     VectorizerSpec `json:"vectorizer"`
	ClassLogPrior  []float64      `json:"class_log_prior"`
	FeatureLogProb [][]float64    `json:"feature_log_prob"`
}

// Classifier scores messages against the fixed intent set. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	classes []domain.Intent
	vec     *vectorizer
	prior   []float64
	logProb [][]float64
}

// DecodeClassifier parses and validates a classifier artifact.
func DecodeClassifier(data []byte) (*Classifier, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("intent: decode classifier: %w", err)
	}
	return NewClassifier(a)
}

// NewClassifier builds a classifier from an artifact, rejecting labels
// outside the known intent set and mismatched dimensions.
func NewClassifier(a Artifact) (*Classifier, error) {
	if len(a.Classes) == 0 {
		return nil, errors.New("intent: classifier has no classes")
	}
	vec, err := newVectorizer(a.Vectorizer)
	if err != nil {
		return nil, err
	}

	classes := make([]domain.Intent, len(a.Classes))
	for i, label := range a.Classes {
		in, err := domain.ParseIntent(label)
		if err != nil {
			return nil, fmt.Errorf("intent: classifier class %d: %w", i, err)
		}
		classes[i] = in
	}
	if len(a.ClassLogPrior) != len(classes) {
		return nil, fmt.Errorf("intent: %d class priors for %d classes", len(a.ClassLogPrior), len(classes))
	}
	if len(a.FeatureLogProb) != len(classes) {
		return nil, fmt.Errorf("intent: %d feature rows for %d classes", len(a.FeatureLogProb), len(classes))
	}
	for i, row := range a.FeatureLogProb {
		if len(row) != vec.features {
			return nil, fmt.Errorf("intent: feature row %d has %d columns, want %d", i, len(row), vec.features)
		}
	}

	return &Classifier{
		classes: classes,
		vec:     vec,
		prior:   a.ClassLogPrior,
		logProb: a.FeatureLogProb,
	}, nil
}

// Classes returns the labels in the order PredictProba reports them.
func (c *Classifier) Classes() []domain.Intent {
	out := make([]domain.Intent, len(c.classes))
	copy(out, c.classes)
	return out
}

// PredictProba returns the posterior over Classes for text.
func (c *Classifier) PredictProba(text string) []float64 {
	x := c.vec.transform(text)

	jll := make([]float64, len(c.classes))
	for k := range c.classes {
		score := c.prior[k]
		for _, f := range x {
			score += f.weight * c.logProb[k][f.idx]
		}
		jll[k] = score
	}

	lse := logSumExp(jll)
	probs := make([]float64, len(jll))
	for k, s := range jll {
		p := math.Exp(s - lse)
		if math.IsNaN(p) {
			p = 0
		}
		probs[k] = math.Min(1, math.Max(0, p))
	}
	return probs
}

// Classify returns the most probable intent and its probability. Ties go to
// the earlier class.
func (c *Classifier) Classify(text string) domain.Classification {
	probs := c.PredictProba(text)
	best := 0
	for k := 1; k < len(probs); k++ {
		if probs[k] > probs[best] {
			best = k
		}
	}
	return domain.Classification{Intent: c.classes[best], Confidence: probs[best]}
}

func logSumExp(xs []float64) float64 {
	top := math.Inf(-1)
	for _, x := range xs {
		if x > top {
			top = x
		}
	}
	if math.IsInf(top, 0) {
		return top
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - top)
	}
	return top + math.Log(sum)
}
