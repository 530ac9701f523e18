package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"wattsup/internal/domain"
	"wattsup/internal/intent"
)

const defaultMaxContext = 20

type IntentClassifier interface {
	Classify(text string) domain.Classification
}

type ReplyRouter interface {
	Route(ctx context.Context, message string, c domain.Classification) (intent.Reply, error)
}

type ChatService struct {
	classifier      IntentClassifier
	router          ReplyRouter
	store           SessionStore
	maxMessageLen   int
	maxContextItems int
}

type RespondInput struct {
	SessionID string
	Message   string
}

type RespondOutput struct {
	SessionID  string
	Reply      string
	Intent     domain.Intent
	Confidence float64
	Route      domain.Route
}

// NewChatService builds a ChatService. maxMessageLen counts runes; zero or
// less disables the limit.
func NewChatService(c IntentClassifier, r ReplyRouter, s SessionStore, maxMessageLen, maxContextItems int) (*ChatService, error) {
	if c == nil {
		return nil, errors.New("usecase: intent classifier must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: reply router must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	return &ChatService{
		classifier:      c,
		router:          r,
		store:           s,
		maxMessageLen:   maxMessageLen,
		maxContextItems: maxContextItems,
	}, nil
}

// Respond classifies message, routes it to a canned or generated reply and
// appends both sides of the exchange to the session history. The message is
// passed on unmodified; an empty message is answered like any other.
func (s *ChatService) Respond(ctx context.Context, in RespondInput) (RespondOutput, error) {
	if len(in.SessionID) > maxSessionIDLen {
		return RespondOutput{}, newError(ErrorInvalidInput, "session_id_too_long", nil)
	}
	if s.maxMessageLen > 0 && utf8.RuneCountInString(in.Message) > s.maxMessageLen {
		return RespondOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := sessionOrNew(in.SessionID)

	c := s.classifier.Classify(in.Message)
	reply, err := s.router.Route(ctx, in.Message, c)
	if err != nil {
		if errors.Is(err, intent.ErrLabelTableMismatch) {
			return RespondOutput{}, newError(ErrorInternal, "label_table_mismatch", err)
		}
		return RespondOutput{}, newError(ErrorInternal, "route_error", err)
	}

	err = s.store.AppendTurns(ctx, sessionID,
		domain.ConversationTurn{Role: domain.RoleUser, Text: in.Message},
		domain.ConversationTurn{Role: domain.RoleAssistant, Text: reply.Text},
	)
	if err != nil {
		return RespondOutput{}, newError(ErrorInternal, "session_write_error", err)
	}

	return RespondOutput{
		SessionID:  sessionID,
		Reply:      reply.Text,
		Intent:     c.Intent,
		Confidence: c.Confidence,
		Route:      reply.Route,
	}, nil
}

// History returns the most recent turns of a session, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if len(sessionID) > maxSessionIDLen {
		return nil, newError(ErrorInvalidInput, "session_id_too_long", nil)
	}
	turns, err := s.store.GetHistory(ctx, sessionID, s.maxContextItems)
	if err != nil {
		return nil, newError(ErrorInternal, "session_read_error", err)
	}
	return turns, nil
}
