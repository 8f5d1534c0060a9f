package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// Store keeps session history in process memory. Suitable for development and
// tests; a restart loses all sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func New() *Store {
	return &Store{sessions: make(map[string]*domain.Session)}
}

func (s *Store) AppendTurn(_ context.Context, sessionID string, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	sess.Turns = append(sess.Turns, turn)
	sess.LastActivity = turn.CreatedAt
	return nil
}

func (s *Store) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []domain.Turn{}, nil
	}
	out := make([]domain.Turn, len(sess.Turns))
	copy(out, sess.Turns)
	return out, nil
}

func (s *Store) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}

func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) PurgeExpired(_ context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) Healthy(context.Context) bool { return true }
