package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"wattsup/internal/billing"
	"wattsup/internal/domain"
)

type stubEstimator struct {
	bill  float64
	err   error
	units int
}

func (s *stubEstimator) Estimate(units int) (float64, error) {
	s.units = units
	return s.bill, s.err
}

func defaultReadings() []domain.HistoricalReading {
	return []domain.HistoricalReading{
		{Units: 200, Bill: 1200},
		{Units: 220, Bill: 1320},
		{Units: 240, Bill: 1440},
	}
}

func newPredictService(t *testing.T, e BillEstimator, s SessionStore) *PredictService {
	t.Helper()
	svc, err := NewPredictService(e, s)
	require.NoError(t, err)
	return svc
}

func TestNewPredictService_ValidatesDependencies(t *testing.T) {
	_, err := NewPredictService(nil, newMockStore())
	require.Error(t, err)
	_, err = NewPredictService(&stubEstimator{}, nil)
	require.Error(t, err)
}

func TestPredictBill_HappyPath(t *testing.T) {
	model := &billing.LinearModel{Intercept: 0.5, Coefficients: []float64{6.0033}}
	store := newMockStore()
	svc := newPredictService(t, billing.NewEstimator(model), store)

	out, err := svc.PredictBill(context.Background(), PredictInput{SessionID: "s1", Readings: defaultReadings()})
	require.NoError(t, err)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, 260, out.PredictedUnits)
	require.Equal(t, 1561.36, out.PredictedBill)

	require.Len(t, out.Series, 4)
	require.Equal(t, "3-mo", out.Series[0].Month)
	require.Equal(t, "Next (pred)", out.Series[3].Month)
	require.True(t, out.Series[3].Predicted)
	require.Equal(t, 1561.36, out.Series[3].Bill)

	saved, ok := store.prediction["s1"]
	require.True(t, ok)
	require.Equal(t, 260, saved.PredictedUnits)
	require.Equal(t, defaultReadings(), saved.Readings)
}

func TestPredictBill_GeneratesSessionID(t *testing.T) {
	fixedUUID(t, "new-session")
	store := newMockStore()
	svc := newPredictService(t, &stubEstimator{bill: 100}, store)

	out, err := svc.PredictBill(context.Background(), PredictInput{Readings: defaultReadings()})
	require.NoError(t, err)
	require.Equal(t, "new-session", out.SessionID)
	require.Contains(t, store.prediction, "new-session")
}

func TestPredictBill_DegradedReadingsStillPredict(t *testing.T) {
	est := &stubEstimator{bill: 10}
	svc := newPredictService(t, est, newMockStore())

	out, err := svc.PredictBill(context.Background(), PredictInput{
		SessionID: "s1",
		Readings:  []domain.HistoricalReading{{Units: 150, Bill: 900}},
	})
	require.NoError(t, err)
	require.Equal(t, 150, out.PredictedUnits)
	require.Equal(t, 150, est.units)
	require.Len(t, out.Series, 2)
	require.Equal(t, "Last", out.Series[0].Month)
}

func TestPredictBill_ClampsFallingUsageAtZero(t *testing.T) {
	est := &stubEstimator{bill: 0}
	svc := newPredictService(t, est, newMockStore())

	out, err := svc.PredictBill(context.Background(), PredictInput{
		SessionID: "s1",
		Readings:  []domain.HistoricalReading{{Units: 500}, {Units: 100}, {Units: 50}},
	})
	require.NoError(t, err)
	require.Equal(t, 0, out.PredictedUnits)
	require.Equal(t, 0, est.units)
}

func TestPredictBill_ModelUnavailable(t *testing.T) {
	store := newMockStore()
	svc := newPredictService(t, billing.NewEstimator(nil), store)

	_, err := svc.PredictBill(context.Background(), PredictInput{SessionID: "s1", Readings: defaultReadings()})
	expectError(t, err, ErrorModelUnavailable, "regression_artifact_missing")
	require.ErrorIs(t, err, billing.ErrModelUnavailable)
	require.Empty(t, store.prediction)
}

func TestPredictBill_Errors(t *testing.T) {
	t.Run("estimator failure", func(t *testing.T) {
		svc := newPredictService(t, &stubEstimator{err: errors.New("boom")}, newMockStore())
		_, err := svc.PredictBill(context.Background(), PredictInput{SessionID: "s1", Readings: defaultReadings()})
		expectError(t, err, ErrorInternal, "regression_predict_error")
	})

	t.Run("store failure", func(t *testing.T) {
		store := newMockStore()
		store.saveErr = errors.New("throttled")
		svc := newPredictService(t, &stubEstimator{bill: 1}, store)
		_, err := svc.PredictBill(context.Background(), PredictInput{SessionID: "s1", Readings: defaultReadings()})
		expectError(t, err, ErrorInternal, "session_write_error")
	})

	t.Run("session id too long", func(t *testing.T) {
		svc := newPredictService(t, &stubEstimator{bill: 1}, newMockStore())
		_, err := svc.PredictBill(context.Background(), PredictInput{SessionID: strings.Repeat("x", maxSessionIDLen+1)})
		expectError(t, err, ErrorInvalidInput, "session_id_too_long")
	})
}

func TestLastPrediction(t *testing.T) {
	store := newMockStore()
	svc := newPredictService(t, &stubEstimator{bill: 1560}, store)

	_, err := svc.LastPrediction(context.Background(), "s1")
	expectError(t, err, ErrorNotFound, "prediction_not_found")

	_, err = svc.PredictBill(context.Background(), PredictInput{SessionID: "s1", Readings: defaultReadings()})
	require.NoError(t, err)

	out, err := svc.LastPrediction(context.Background(), " s1 ")
	require.NoError(t, err)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, 260, out.PredictedUnits)
	require.Equal(t, 1560.0, out.PredictedBill)
	require.Len(t, out.Series, 4)

	_, err = svc.LastPrediction(context.Background(), "")
	expectError(t, err, ErrorInvalidInput, "missing_session_id")

	store.getErr = errors.New("boom")
	_, err = svc.LastPrediction(context.Background(), "s1")
	expectError(t, err, ErrorInternal, "session_read_error")
}
