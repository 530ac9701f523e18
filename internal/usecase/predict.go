package usecase

import (
	"context"
	"errors"
	"strings"

	"wattsup/internal/billing"
	"wattsup/internal/domain"
)

const maxSessionIDLen = 128

// BillEstimator prices a predicted unit count.
type BillEstimator interface {
	Estimate(units int) (float64, error)
}

type PredictService struct {
	estimator BillEstimator
	store     SessionStore
}

type PredictInput struct {
	SessionID string
	// Readings are ordered oldest to newest.
	Readings []domain.HistoricalReading
}

type PredictOutput struct {
	SessionID      string
	PredictedUnits int
	PredictedBill  float64
	Series         []domain.SeriesPoint
}

func NewPredictService(e BillEstimator, s SessionStore) (*PredictService, error) {
	if e == nil {
		return nil, errors.New("usecase: bill estimator must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &PredictService{estimator: e, store: s}, nil
}

// PredictBill extrapolates next month's units from the readings, prices
// them and keeps the result as the session's latest prediction. Readings
// that cannot be extrapolated degrade to the newest reading instead of
// failing.
func (s *PredictService) PredictBill(ctx context.Context, in PredictInput) (PredictOutput, error) {
	if len(in.SessionID) > maxSessionIDLen {
		return PredictOutput{}, newError(ErrorInvalidInput, "session_id_too_long", nil)
	}
	sessionID := sessionOrNew(in.SessionID)

	units := billing.NextUnits(in.Readings)
	bill, err := s.estimator.Estimate(units)
	if err != nil {
		if errors.Is(err, billing.ErrModelUnavailable) {
			return PredictOutput{}, newError(ErrorModelUnavailable, "regression_artifact_missing", err)
		}
		return PredictOutput{}, newError(ErrorInternal, "regression_predict_error", err)
	}

	prediction := domain.TrendPrediction{
		PredictedUnits: units,
		PredictedBill:  bill,
		Readings:       append([]domain.HistoricalReading(nil), in.Readings...),
	}
	if err := s.store.SavePrediction(ctx, sessionID, prediction); err != nil {
		return PredictOutput{}, newError(ErrorInternal, "session_write_error", err)
	}

	return PredictOutput{
		SessionID:      sessionID,
		PredictedUnits: units,
		PredictedBill:  bill,
		Series:         prediction.Series(),
	}, nil
}

// LastPrediction returns the most recent prediction made in a session.
func (s *PredictService) LastPrediction(ctx context.Context, sessionID string) (PredictOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PredictOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if len(sessionID) > maxSessionIDLen {
		return PredictOutput{}, newError(ErrorInvalidInput, "session_id_too_long", nil)
	}

	p, ok, err := s.store.GetPrediction(ctx, sessionID)
	if err != nil {
		return PredictOutput{}, newError(ErrorInternal, "session_read_error", err)
	}
	if !ok {
		return PredictOutput{}, newError(ErrorNotFound, "prediction_not_found", nil)
	}
	return PredictOutput{
		SessionID:      sessionID,
		PredictedUnits: p.PredictedUnits,
		PredictedBill:  p.PredictedBill,
		Series:         p.Series(),
	}, nil
}
