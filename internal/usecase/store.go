package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"wattsup/internal/domain"
)

// SessionStore keeps the per-session chat history and latest prediction.
// Implementations must isolate sessions by id.
type SessionStore interface {
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error)
	SavePrediction(ctx context.Context, sessionID string, p domain.TrendPrediction) error
	GetPrediction(ctx context.Context, sessionID string) (domain.TrendPrediction, bool, error)
}

// sessionOrNew returns the trimmed id, or a fresh one when id is blank.
func sessionOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
