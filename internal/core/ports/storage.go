// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
)

// CounterStore is the shared key→count-with-expiry store behind the rate limiter.
// Implementations must be safe for concurrent use across processes.
type CounterStore interface {
	// Consume atomically increments key when its current count is below limit.
	// The expiry is set only when the increment creates the key, so later
	// increments never extend the window.
	Consume(ctx context.Context, key string, limit int64, window time.Duration) (domain.CounterState, error)
	// Get returns the current count, 0 when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	// TTL returns the time left in the key's window, <= 0 when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// SessionStore persists sessions. Token uniqueness is enforced by the store
// and reported as domain.ErrTokenConflict.
type SessionStore interface {
	Create(ctx context.Context, s domain.Session) error
	// FindByToken returns nil, nil when no session carries the token.
	FindByToken(ctx context.Context, token string) (*domain.Session, error)
	// FindByUser returns the user's sessions, most recently created first.
	FindByUser(ctx context.Context, userID string) ([]domain.Session, error)
	Delete(ctx context.Context, token string) error
	// DeleteByUser removes the user's sessions created at or before cutoff.
	DeleteByUser(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	// DeleteExpired removes sessions whose expiry is strictly before t.
	DeleteExpired(ctx context.Context, t time.Time) (int64, error)
}

// RiskEventSink receives audit records for assessments.
type RiskEventSink interface {
	Record(ctx context.Context, event domain.RiskEvent) error
}
