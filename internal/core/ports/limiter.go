package ports

import (
	"context"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
)

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, identity, endpoint string, window time.Duration, maxRequests int) (domain.Decision, error)
	Allow(ctx context.Context, req domain.RateLimitRequest) (domain.Decision, error)
}

type RiskAssessor interface {
	Assess(factors domain.RequestFactors) domain.RiskAssessment
	RiskLevel(score int) domain.RiskLevel
	// RecordEvent emits an audit record for an assessment. It must not fail
	// or block the caller beyond a bounded timeout.
	RecordEvent(ctx context.Context, factors domain.RequestFactors, assessment domain.RiskAssessment)
}

type SessionManager interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (*domain.Session, error)
	Verify(ctx context.Context, token string) (*domain.Session, error)
	Invalidate(ctx context.Context, token string) error
	InvalidateAll(ctx context.Context, userID string) error
	UserSessions(ctx context.Context, userID string) ([]domain.Session, error)
	Cleanup(ctx context.Context) (int64, error)
}

type Guard interface {
	Check(ctx context.Context, req domain.GuardRequest) (domain.Verdict, error)
}
