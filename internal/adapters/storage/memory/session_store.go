package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

// SessionStore keeps sessions in process memory, keyed by token.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

var _ ports.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.Session)}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Token]; exists {
		return domain.ErrTokenConflict
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *SessionStore) FindByToken(_ context.Context, token string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *SessionStore) FindByUser(_ context.Context, userID string) ([]domain.Session, error) {
	s.mu.RLock()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) DeleteByUser(_ context.Context, userID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, session := range s.sessions {
		if session.UserID == userID && !session.CreatedAt.After(cutoff) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) DeleteExpired(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(t) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}
