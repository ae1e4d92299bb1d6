// Package memory provides in-process stores for tests and single-instance
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// CounterStore keeps fixed-window counters in a map guarded by a mutex.
type CounterStore struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	clock   ports.Clock
}

var _ ports.CounterStore = (*CounterStore)(nil)

func NewCounterStore() *CounterStore {
	return &CounterStore{
		entries: make(map[string]*counterEntry),
		clock:   ports.SystemClock{},
	}
}

// WithClock sets a custom clock (for testing).
func (s *CounterStore) WithClock(clock ports.Clock) *CounterStore {
	s.clock = clock
	return s
}

func (s *CounterStore) Consume(_ context.Context, key string, limit int64, window time.Duration) (domain.CounterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	entry := s.live(key, now)
	if entry == nil {
		entry = &counterEntry{expiresAt: now.Add(window)}
		s.entries[key] = entry
	}

	if entry.count >= limit {
		return domain.CounterState{Count: entry.count, TTL: entry.expiresAt.Sub(now)}, nil
	}

	entry.count++
	return domain.CounterState{Count: entry.count, Consumed: true, TTL: entry.expiresAt.Sub(now)}, nil
}

func (s *CounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.live(key, s.clock.Now()); entry != nil {
		return entry.count, nil
	}
	return 0, nil
}

func (s *CounterStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if entry := s.live(key, now); entry != nil {
		return entry.expiresAt.Sub(now), nil
	}
	return 0, nil
}

func (s *CounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Sweep drops expired counters and returns how many were removed.
func (s *CounterStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// live returns the entry for key, evicting it first if its window is over.
// Callers must hold s.mu.
func (s *CounterStore) live(key string, now time.Time) *counterEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}
