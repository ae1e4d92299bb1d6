package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

const (
	DefaultSessionTTL          = 7 * 24 * time.Hour
	defaultSessionStoreTimeout = 2 * time.Second
	tokenBytes                 = 32
	maxTokenAttempts           = 3
)

type SessionConfig struct {
	DefaultTTL   time.Duration
	StoreTimeout time.Duration
}

// SessionManager owns opaque bearer sessions. Token uniqueness is left to
// the store's unique constraint, so several processes can share one store.
type SessionManager struct {
	store  ports.SessionStore
	config SessionConfig
	opts   options
	token  func() (string, error)
}

var _ ports.SessionManager = (*SessionManager)(nil)

func NewSessionManager(store ports.SessionStore, cfg SessionConfig, opts ...Option) (*SessionManager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultSessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultSessionStoreTimeout
	}
	return &SessionManager{store: store, config: cfg, opts: buildOptions(opts), token: newToken}, nil
}

// Create issues a session for userID. A zero ttl means the default TTL; a
// negative ttl yields a session that is already expired.
func (m *SessionManager) Create(ctx context.Context, userID string, ttl time.Duration) (*domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrIdentityRequired
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	for attempt := 1; ; attempt++ {
		token, err := m.token()
		if err != nil {
			return nil, fmt.Errorf("generate session token: %w", err)
		}

		now := m.opts.clock.Now()
		session := domain.Session{
			ID:        uuid.NewString(),
			Token:     token,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
		err = m.store.Create(storeCtx, session)
		cancel()
		if err == nil {
			return &session, nil
		}
		if !domain.IsTokenConflict(err) || attempt >= maxTokenAttempts {
			m.opts.logger.Error("failed to create session", zap.String("user_id", userID), zap.Error(err))
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.opts.logger.Warn("session token collision, regenerating", zap.Int("attempt", attempt))
	}
}

// Verify returns the active session for token, or nil when the token is
// unknown or expired. A store failure is not a miss: it returns an error
// matching domain.ErrSessionIndeterminate.
func (m *SessionManager) Verify(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	session, err := m.store.FindByToken(storeCtx, token)
	if err != nil {
		m.opts.logger.Error("session lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionIndeterminate, err)
	}
	if session == nil || !session.ActiveAt(m.opts.clock.Now()) {
		return nil, nil
	}
	return session, nil
}

// Invalidate deletes the session for token. Unknown tokens are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	if err := m.store.Delete(storeCtx, token); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// InvalidateAll deletes every session userID held when the call started.
// Sessions created strictly later survive.
func (m *SessionManager) InvalidateAll(ctx context.Context, userID string) error {
	startedAt := m.opts.clock.Now()

	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	n, err := m.store.DeleteByUser(storeCtx, userID, startedAt)
	if err != nil {
		return fmt.Errorf("invalidate sessions for user: %w", err)
	}
	m.opts.logger.Info("sessions invalidated", zap.String("user_id", userID), zap.Int64("count", n))
	return nil
}

// UserSessions lists the user's stored sessions, newest first, expired ones
// included.
func (m *SessionManager) UserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	sessions, err := m.store.FindByUser(storeCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return sessions, nil
}

// Cleanup removes sessions whose expiry is strictly in the past and reports
// how many went.
func (m *SessionManager) Cleanup(ctx context.Context) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, m.config.StoreTimeout)
	defer cancel()

	n, err := m.store.DeleteExpired(storeCtx, m.opts.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	m.opts.metrics.AddSessionsSwept(n)
	return n, nil
}

// RunSweeper calls Cleanup every interval until ctx is done. Failed sweeps
// are logged and retried on the next tick.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Cleanup(ctx)
			if err != nil {
				m.opts.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				m.opts.logger.Info("expired sessions swept", zap.Int64("count", n))
			}
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
