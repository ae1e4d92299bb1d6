package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjsmithok/security-platform/internal/adapters/storage/memory"
	"github.com/jjsmithok/security-platform/internal/core/catalog"
	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/observability"
)

type guardFixture struct {
	guard   *Guard
	sink    *recordingSink
	metrics *observability.Metrics
}

func newTestGuard(t *testing.T, requests int) guardFixture {
	t.Helper()
	clock := newFakeClock()
	metrics := observability.NewMetrics()
	sink := &recordingSink{}

	limiter, err := NewRateLimiterService(memory.NewCounterStore().WithClock(clock), defaultTestConfig(requests), WithClock(clock))
	require.NoError(t, err)
	engine, err := NewRiskEngine(catalog.Default(), DefaultRiskConfig(), sink, WithClock(clock))
	require.NoError(t, err)
	guard, err := NewGuard(limiter, engine, WithMetrics(metrics))
	require.NoError(t, err)

	return guardFixture{guard: guard, sink: sink, metrics: metrics}
}

func TestGuard_AdmitsCleanRequest(t *testing.T) {
	f := newTestGuard(t, 5)

	verdict, err := f.guard.Check(context.Background(), domain.GuardRequest{
		Identity: "user-1",
		Factors:  domain.RequestFactors{Endpoint: "/api/protected/echo", Payload: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAdmit, verdict.Outcome)
	assert.True(t, verdict.RateLimit.Allowed)
	assert.Equal(t, 4, verdict.RateLimit.Remaining)
	require.NotNil(t, verdict.Risk)
	assert.Equal(t, 0, verdict.Risk.Score)

	events := f.sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].Identity)
	assert.False(t, events[0].Blocked)
}

func TestGuard_BlocksRiskyRequest(t *testing.T) {
	f := newTestGuard(t, 5)

	verdict, err := f.guard.Check(context.Background(), domain.GuardRequest{
		Identity: "user-1",
		Factors: domain.RequestFactors{
			IP:       "192.0.2.9",
			Endpoint: "/api/protected/echo",
			Payload:  map[string]any{"q": "<script>alert(1)</script>"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeBlock, verdict.Outcome)
	require.NotNil(t, verdict.Risk)
	assert.Equal(t, 80, verdict.Risk.Score)
	assert.True(t, verdict.Risk.ShouldBlock)

	events := f.sink.recorded()
	require.Len(t, events, 1)
	assert.True(t, events[0].Blocked)
}

func TestGuard_ThrottleSkipsRiskScan(t *testing.T) {
	f := newTestGuard(t, 1)
	ctx := context.Background()
	req := domain.GuardRequest{Identity: "user-1", Factors: domain.RequestFactors{Endpoint: "/x"}}

	first, err := f.guard.Check(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeAdmit, first.Outcome)

	second, err := f.guard.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeThrottle, second.Outcome)
	assert.Nil(t, second.Risk)
	assert.False(t, second.RateLimit.Allowed)
	assert.Equal(t, time.Minute, second.RateLimit.ResetAt.Sub(newFakeClock().Now()))

	assert.Len(t, f.sink.recorded(), 1, "throttled requests are not audited")

	expected := `
# HELP guard_decisions_total Guard verdicts by outcome.
# TYPE guard_decisions_total counter
guard_decisions_total{outcome="admit"} 1
guard_decisions_total{outcome="throttle"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), "guard_decisions_total"))
}

func TestGuard_RequiresIdentity(t *testing.T) {
	f := newTestGuard(t, 1)

	_, err := f.guard.Check(context.Background(), domain.GuardRequest{})
	assert.ErrorIs(t, err, domain.ErrIdentityRequired)
}

func TestGuard_AdmitsWhenCounterStoreIsDown(t *testing.T) {
	limiter, err := NewRateLimiterService(failingCounterStore{}, defaultTestConfig(1))
	require.NoError(t, err)
	engine, err := NewRiskEngine(catalog.Default(), DefaultRiskConfig(), nil)
	require.NoError(t, err)
	guard, err := NewGuard(limiter, engine)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		verdict, err := guard.Check(context.Background(), domain.GuardRequest{Identity: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAdmit, verdict.Outcome)
		assert.True(t, verdict.RateLimit.FailedOpen)
	}
}

func TestNewGuard_Validation(t *testing.T) {
	engine, err := NewRiskEngine(catalog.Default(), DefaultRiskConfig(), nil)
	require.NoError(t, err)
	_, err = NewGuard(nil, engine)
	assert.Error(t, err)

	limiter, err := NewRateLimiterService(memory.NewCounterStore(), defaultTestConfig(1))
	require.NoError(t, err)
	_, err = NewGuard(limiter, nil)
	assert.Error(t, err)
}
