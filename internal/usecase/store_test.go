package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wattsup/internal/domain"
)

type mockStore struct {
	turns      map[string][]domain.ConversationTurn
	prediction map[string]domain.TrendPrediction

	appendErr  error
	historyErr error
	saveErr    error
	getErr     error

	lastLimit int
}

func newMockStore() *mockStore {
	return &mockStore{
		turns:      map[string][]domain.ConversationTurn{},
		prediction: map[string]domain.TrendPrediction{},
	}
}

func (m *mockStore) AppendTurns(_ context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.turns[sessionID] = append(m.turns[sessionID], turns...)
	return nil
}

func (m *mockStore) GetHistory(_ context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	m.lastLimit = limit
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	turns := m.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (m *mockStore) SavePrediction(_ context.Context, sessionID string, p domain.TrendPrediction) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.prediction[sessionID] = p
	return nil
}

func (m *mockStore) GetPrediction(_ context.Context, sessionID string) (domain.TrendPrediction, bool, error) {
	if m.getErr != nil {
		return domain.TrendPrediction{}, false, m.getErr
	}
	p, ok := m.prediction[sessionID]
	return p, ok, nil
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func fixedUUID(t *testing.T, id string) {
	t.Helper()
	orig := newUUID
	newUUID = func() string { return id }
	t.Cleanup(func() { newUUID = orig })
}

func TestSessionOrNew(t *testing.T) {
	fixedUUID(t, "generated")
	require.Equal(t, "abc", sessionOrNew("  abc "))
	require.Equal(t, "generated", sessionOrNew(""))
	require.Equal(t, "generated", sessionOrNew("   "))
}
