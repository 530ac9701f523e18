package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"wattsup/internal/domain"
)

// Memory keeps session state in process memory. Sessions are isolated by
// id and dropped once idle for longer than the TTL.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]*memorySession
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type memorySession struct {
	turns      []domain.ConversationTurn
	prediction *domain.TrendPrediction
	touched    time.Time
}

// NewMemory creates an empty store. A non-positive ttl uses 24 hours.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{sessions: make(map[string]*memorySession), ttl: ttl, now: time.Now}
}

// session returns the live session for id, creating it when create is set.
// Other idle sessions are swept at most once per TTL. Callers must hold m.mu.
func (m *Memory) session(id string, create bool) *memorySession {
	now := m.now()
	if now.Sub(m.lastSweep) > m.ttl {
		for key, s := range m.sessions {
			if now.Sub(s.touched) > m.ttl {
				delete(m.sessions, key)
			}
		}
		m.lastSweep = now
	}
	s, ok := m.sessions[id]
	if ok && now.Sub(s.touched) > m.ttl {
		delete(m.sessions, id)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		s = &memorySession{}
		m.sessions[id] = s
	}
	s.touched = now
	return s
}

func (m *Memory) AppendTurns(_ context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurns: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID, true)
	now := m.now()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		s.turns = append(s.turns, t)
	}
	return nil
}

func (m *Memory) GetHistory(_ context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID, false)
	if s == nil {
		return nil, nil
	}
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *Memory) SavePrediction(_ context.Context, sessionID string, p domain.TrendPrediction) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SavePrediction: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Readings = append([]domain.HistoricalReading(nil), p.Readings...)
	m.session(sessionID, true).prediction = &p
	return nil
}

func (m *Memory) GetPrediction(_ context.Context, sessionID string) (domain.TrendPrediction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID, false)
	if s == nil || s.prediction == nil {
		return domain.TrendPrediction{}, false, nil
	}
	p := *s.prediction
	p.Readings = append([]domain.HistoricalReading(nil), p.Readings...)
	return p, true, nil
}
