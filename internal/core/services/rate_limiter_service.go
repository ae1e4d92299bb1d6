package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

const (
	defaultKeyPrefix           = "rl"
	defaultCounterStoreTimeout = 250 * time.Millisecond
)

// Config agrega os limites utilizados pelo serviço de rate limiting.
type Config struct {
	DefaultRule   domain.RateLimitRule
	EndpointRules map[string]domain.RateLimitRule
	KeyPrefix     string
	StoreTimeout  time.Duration
}

// RateLimiterService is a fixed-window limiter over a shared CounterStore.
//
// The window starts with the first request for a key and is never extended,
// so a caller can spend up to twice the budget across a window edge.
//
// When the store fails the request is admitted (fail open) and the failure
// is logged.
type RateLimiterService struct {
	storage ports.CounterStore
	config  Config
	opts    options
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(storage ports.CounterStore, cfg Config, opts ...Option) (*RateLimiterService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if err := cfg.DefaultRule.Validate(); err != nil {
		return nil, fmt.Errorf("default rule: %w", err)
	}

	rules := make(map[string]domain.RateLimitRule, len(cfg.EndpointRules))
	for endpoint, rule := range cfg.EndpointRules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule for endpoint %s: %w", endpoint, err)
		}
		rules[endpoint] = rule
	}
	cfg.EndpointRules = rules

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultCounterStoreTimeout
	}

	return &RateLimiterService{storage: storage, config: cfg, opts: buildOptions(opts)}, nil
}

// Allow applies the endpoint's rule, or the default rule, to the request.
func (s *RateLimiterService) Allow(ctx context.Context, req domain.RateLimitRequest) (domain.Decision, error) {
	rule := s.Rule(req.Endpoint)
	return s.CheckAndConsume(ctx, req.Identity, req.Endpoint, rule.Window, rule.Requests)
}

// CheckAndConsume spends one unit of the (identity, endpoint) budget if any
// is left. Only invalid arguments produce an error; store failures fail open.
func (s *RateLimiterService) CheckAndConsume(ctx context.Context, identity, endpoint string, window time.Duration, maxRequests int) (domain.Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Decision{}, domain.ErrIdentityRequired
	}
	rule := domain.RateLimitRule{Requests: maxRequests, Window: window}
	if err := rule.Validate(); err != nil {
		return domain.Decision{}, err
	}

	key := s.key(identity, endpoint)
	now := s.opts.clock.Now()

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	state, err := s.storage.Consume(storeCtx, key, int64(maxRequests), window)
	if err != nil {
		s.opts.logger.Warn("rate limiter store failed, admitting request",
			zap.String("key", key),
			zap.Error(err),
		)
		s.opts.metrics.IncStoreFailOpen()
		return domain.Decision{
			Allowed:    true,
			Remaining:  maxRequests,
			ResetAt:    now.Add(window),
			Limit:      maxRequests,
			Key:        key,
			FailedOpen: true,
		}, nil
	}

	resetAt := now.Add(window)
	if state.TTL > 0 {
		resetAt = now.Add(state.TTL)
	}

	if !state.Consumed {
		return domain.Decision{
			Allowed: false,
			ResetAt: resetAt,
			Limit:   maxRequests,
			Key:     key,
		}, nil
	}

	remaining := maxRequests - int(state.Count)
	if remaining < 0 {
		remaining = 0
	}

	return domain.Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     maxRequests,
		Key:       key,
	}, nil
}

// Peek reports the current usage for (identity, endpoint) without consuming.
// Unlike CheckAndConsume, store errors are returned.
func (s *RateLimiterService) Peek(ctx context.Context, identity, endpoint string) (domain.Usage, error) {
	rule := s.Rule(endpoint)
	key := s.key(strings.TrimSpace(identity), endpoint)
	now := s.opts.clock.Now()

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	count, err := s.storage.Get(storeCtx, key)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("read counter: %w", err)
	}
	ttl, err := s.storage.TTL(storeCtx, key)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("read counter ttl: %w", err)
	}

	usage := domain.Usage{
		Key:       key,
		Count:     int(count),
		Limit:     rule.Requests,
		Remaining: rule.Requests - int(count),
		ResetAt:   now.Add(rule.Window),
	}
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}
	if count > 0 && ttl > 0 {
		usage.ResetAt = now.Add(ttl)
	}
	return usage, nil
}

// Reset drops the record for (identity, endpoint); the next call starts a new window.
func (s *RateLimiterService) Reset(ctx context.Context, identity, endpoint string) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	if err := s.storage.Reset(storeCtx, s.key(strings.TrimSpace(identity), endpoint)); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	return nil
}

// Rule returns the rule enforced for endpoint.
func (s *RateLimiterService) Rule(endpoint string) domain.RateLimitRule {
	if rule, ok := s.config.EndpointRules[endpoint]; ok {
		return rule
	}
	return s.config.DefaultRule
}

// The identity length prefix keeps "a:b"+"c" and "a"+"b:c" apart.
func (s *RateLimiterService) key(identity, endpoint string) string {
	return fmt.Sprintf("%s:%d:%s:%s", s.config.KeyPrefix, len(identity), identity, endpoint)
}
