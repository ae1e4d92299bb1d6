package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStoreDown = errors.New("connection refused")

// failingCounterStore simulates an unreachable counter store.
type failingCounterStore struct{}

func (failingCounterStore) Consume(context.Context, string, int64, time.Duration) (domain.CounterState, error) {
	return domain.CounterState{}, errStoreDown
}

func (failingCounterStore) Get(context.Context, string) (int64, error) { return 0, errStoreDown }

func (failingCounterStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errStoreDown
}

func (failingCounterStore) Reset(context.Context, string) error { return errStoreDown }

// blockingCounterStore waits for the context, like a store that never answers.
type blockingCounterStore struct{ failingCounterStore }

func (blockingCounterStore) Consume(ctx context.Context, _ string, _ int64, _ time.Duration) (domain.CounterState, error) {
	<-ctx.Done()
	return domain.CounterState{}, ctx.Err()
}
