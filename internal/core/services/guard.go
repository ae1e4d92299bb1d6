package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

// Guard sequences one request through the rate limiter and the risk engine.
type Guard struct {
	limiter ports.RateLimiter
	risk    ports.RiskAssessor
	opts    options
}

var _ ports.Guard = (*Guard)(nil)

func NewGuard(limiter ports.RateLimiter, risk ports.RiskAssessor, opts ...Option) (*Guard, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if risk == nil {
		return nil, fmt.Errorf("risk assessor is required")
	}
	return &Guard{limiter: limiter, risk: risk, opts: buildOptions(opts)}, nil
}

// Check runs the rate limit first; a throttled request is not scanned. An
// admitted request is assessed and audited. The only error is a missing
// identity.
func (g *Guard) Check(ctx context.Context, req domain.GuardRequest) (domain.Verdict, error) {
	factors := req.Factors
	if factors.Identity == "" {
		factors.Identity = req.Identity
	}

	decision, err := g.limiter.Allow(ctx, domain.RateLimitRequest{
		Identity: req.Identity,
		Endpoint: factors.Endpoint,
	})
	if err != nil {
		return domain.Verdict{}, err
	}

	if !decision.Allowed {
		g.opts.metrics.ObserveDecision(string(domain.OutcomeThrottle))
		g.opts.logger.Debug("request throttled",
			zap.String("identity", req.Identity),
			zap.String("endpoint", factors.Endpoint),
			zap.Time("reset_at", decision.ResetAt),
		)
		return domain.Verdict{Outcome: domain.OutcomeThrottle, RateLimit: decision}, nil
	}

	assessment := g.risk.Assess(factors)
	g.risk.RecordEvent(ctx, factors, assessment)

	outcome := domain.OutcomeAdmit
	if assessment.ShouldBlock {
		outcome = domain.OutcomeBlock
		g.opts.logger.Info("request blocked",
			zap.String("identity", req.Identity),
			zap.String("ip", factors.IP),
			zap.String("endpoint", factors.Endpoint),
			zap.Int("score", assessment.Score),
			zap.Strings("factors", assessment.Factors),
		)
	}
	g.opts.metrics.ObserveDecision(string(outcome))

	return domain.Verdict{Outcome: outcome, RateLimit: decision, Risk: &assessment}, nil
}
