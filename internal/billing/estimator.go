package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrModelUnavailable is returned when no regression artifact was loaded.
var ErrModelUnavailable = errors.New("billing: no trained bill model loaded")

// Regressor maps a single numeric feature onto a predicted value.
type Regressor interface {
	Predict(x float64) (float64, error)
}

// LinearModel is an exported single-feature least-squares fit.
type LinearModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// DecodeLinearModel parses the JSON export of a trained linear regression.
func DecodeLinearModel(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("billing: decode linear model: %w", err)
	}
	if len(m.Coefficients) != 1 {
		return nil, fmt.Errorf("billing: linear model has %d coefficients, want 1", len(m.Coefficients))
	}
	if !finite(m.Intercept) || !finite(m.Coefficients[0]) {
		return nil, errors.New("billing: linear model has non-finite parameters")
	}
	return &m, nil
}

func (m *LinearModel) Predict(x float64) (float64, error) {
	if len(m.Coefficients) != 1 {
		return 0, fmt.Errorf("billing: linear model has %d coefficients, want 1", len(m.Coefficients))
	}
	return m.Intercept + m.Coefficients[0]*x, nil
}

// Estimator prices a unit count with the bill model loaded at startup.
type Estimator struct {
	model Regressor
}

// NewEstimator wraps model. A nil model is allowed and makes every
// estimate fail with ErrModelUnavailable.
func NewEstimator(model Regressor) *Estimator {
	return &Estimator{model: model}
}

// Available reports whether a bill model was loaded.
func (e *Estimator) Available() bool {
	return e != nil && e.model != nil
}

// Estimate returns the predicted bill for units, rounded to two decimals
// half away from zero on the shortest decimal form of the model output.
func (e *Estimator) Estimate(units int) (float64, error) {
	if !e.Available() {
		return 0, ErrModelUnavailable
	}
	y, err := e.model.Predict(float64(units))
	if err != nil {
		return 0, fmt.Errorf("billing: predict bill: %w", err)
	}
	if !finite(y) {
		return 0, fmt.Errorf("billing: predict bill: non-finite result %v", y)
	}
	return decimal.NewFromFloat(y).Round(2).InexactFloat64(), nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
