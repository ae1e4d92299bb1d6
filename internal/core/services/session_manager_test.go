package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjsmithok/security-platform/internal/adapters/storage/memory"
	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/observability"
)

func newTestSessions(t *testing.T, opts ...Option) (*SessionManager, *memory.SessionStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewSessionStore()
	manager, err := NewSessionManager(store, SessionConfig{}, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return manager, store, clock
}

// failingSessionStore simulates an unreachable session database.
type failingSessionStore struct{ *memory.SessionStore }

func (failingSessionStore) FindByToken(context.Context, string) (*domain.Session, error) {
	return nil, errStoreDown
}

func (failingSessionStore) Create(context.Context, domain.Session) error { return errStoreDown }

// conflictingSessionStore rejects the first n creates as token collisions.
type conflictingSessionStore struct {
	*memory.SessionStore
	conflicts int
	attempts  int
}

func (s *conflictingSessionStore) Create(ctx context.Context, session domain.Session) error {
	s.attempts++
	if s.attempts <= s.conflicts {
		return domain.ErrTokenConflict
	}
	return s.SessionStore.Create(ctx, session)
}

func TestSessionManager_CreateAndVerify(t *testing.T) {
	manager, _, clock := newTestSessions(t)
	ctx := context.Background()

	session, err := manager.Create(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Len(t, session.Token, 43)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, clock.Now(), session.CreatedAt)
	assert.Equal(t, clock.Now().Add(DefaultSessionTTL), session.ExpiresAt)

	verified, err := manager.Verify(ctx, session.Token)
	require.NoError(t, err)
	require.NotNil(t, verified)
	assert.Equal(t, session.ID, verified.ID)
}

func TestSessionManager_TokensAreUnique(t *testing.T) {
	manager, _, _ := newTestSessions(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		session, err := manager.Create(ctx, "user-1", time.Hour)
		require.NoError(t, err)
		assert.False(t, seen[session.Token])
		seen[session.Token] = true
	}
}

func TestSessionManager_AlreadyExpiredSessionIsAbsent(t *testing.T) {
	manager, _, _ := newTestSessions(t)
	ctx := context.Background()

	session, err := manager.Create(ctx, "user-1", -time.Second)
	require.NoError(t, err)

	verified, err := manager.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, verified)
}

func TestSessionManager_ExpiresAtBoundary(t *testing.T) {
	manager, _, clock := newTestSessions(t)
	ctx := context.Background()

	session, err := manager.Create(ctx, "user-1", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute - time.Nanosecond)
	verified, err := manager.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.NotNil(t, verified)

	clock.Advance(time.Nanosecond)
	verified, err = manager.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, verified, "a session is expired at its expiry instant")
}

func TestSessionManager_VerifyUnknownToken(t *testing.T) {
	manager, _, _ := newTestSessions(t)

	verified, err := manager.Verify(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, verified)

	verified, err = manager.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, verified)
}

func TestSessionManager_VerifyStoreFailureIsIndeterminate(t *testing.T) {
	manager, err := NewSessionManager(failingSessionStore{memory.NewSessionStore()}, SessionConfig{})
	require.NoError(t, err)

	verified, err := manager.Verify(context.Background(), "some-token")
	assert.Nil(t, verified)
	require.Error(t, err)
	assert.True(t, domain.IsIndeterminate(err))
}

func TestSessionManager_Invalidate(t *testing.T) {
	manager, _, _ := newTestSessions(t)
	ctx := context.Background()

	session, err := manager.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, manager.Invalidate(ctx, session.Token))
	require.NoError(t, manager.Invalidate(ctx, session.Token))

	verified, err := manager.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, verified)
}

func TestSessionManager_InvalidateAll(t *testing.T) {
	manager, _, clock := newTestSessions(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := manager.Create(ctx, "user-1", time.Hour)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	other, err := manager.Create(ctx, "user-2", time.Hour)
	require.NoError(t, err)

	require.NoError(t, manager.InvalidateAll(ctx, "user-1"))

	sessions, err := manager.UserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	verified, err := manager.Verify(ctx, other.Token)
	require.NoError(t, err)
	assert.NotNil(t, verified)
}

func TestSessionManager_InvalidateAllSparesLaterSessions(t *testing.T) {
	manager, store, clock := newTestSessions(t)
	ctx := context.Background()

	_, err := manager.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	// Simulates a create that lands after InvalidateAll started.
	later := domain.Session{
		ID:        "later",
		Token:     "later-token",
		UserID:    "user-1",
		CreatedAt: clock.Now().Add(time.Millisecond),
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	require.NoError(t, store.Create(ctx, later))

	require.NoError(t, manager.InvalidateAll(ctx, "user-1"))

	sessions, err := manager.UserSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "later", sessions[0].ID)
}

func TestSessionManager_UserSessionsNewestFirst(t *testing.T) {
	manager, _, clock := newTestSessions(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		session, err := manager.Create(ctx, "user-1", time.Minute)
		require.NoError(t, err)
		ids = append([]string{session.ID}, ids...)
		clock.Advance(time.Minute)
	}

	sessions, err := manager.UserSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for i, s := range sessions {
		assert.Equal(t, ids[i], s.ID)
	}

	none, err := manager.UserSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSessionManager_Cleanup(t *testing.T) {
	metrics := observability.NewMetrics()
	manager, _, clock := newTestSessions(t, WithMetrics(metrics))
	ctx := context.Background()

	_, err := manager.Create(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	_, err = manager.Create(ctx, "user-2", time.Minute)
	require.NoError(t, err)
	keep, err := manager.Create(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	// At exactly the expiry instant nothing is strictly past yet.
	clock.Advance(time.Minute)
	n, err := manager.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(time.Nanosecond)
	n, err = manager.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = manager.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	verified, err := manager.Verify(ctx, keep.Token)
	require.NoError(t, err)
	assert.NotNil(t, verified)

	expected := `
# HELP guard_sessions_swept_total Expired sessions removed by cleanup.
# TYPE guard_sessions_swept_total counter
guard_sessions_swept_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "guard_sessions_swept_total"))
}

func TestSessionManager_CreateRetriesTokenConflicts(t *testing.T) {
	store := &conflictingSessionStore{SessionStore: memory.NewSessionStore(), conflicts: 2}
	manager, err := NewSessionManager(store, SessionConfig{})
	require.NoError(t, err)

	session, err := manager.Create(context.Background(), "user-1", time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, session)
	assert.Equal(t, 3, store.attempts)

	store = &conflictingSessionStore{SessionStore: memory.NewSessionStore(), conflicts: 5}
	manager, err = NewSessionManager(store, SessionConfig{})
	require.NoError(t, err)

	_, err = manager.Create(context.Background(), "user-1", time.Hour)
	assert.ErrorIs(t, err, domain.ErrTokenConflict)
	assert.Equal(t, maxTokenAttempts, store.attempts)
}

func TestSessionManager_CreateErrors(t *testing.T) {
	manager, _, _ := newTestSessions(t)
	_, err := manager.Create(context.Background(), " ", time.Hour)
	assert.ErrorIs(t, err, domain.ErrIdentityRequired)

	failing, err := NewSessionManager(failingSessionStore{memory.NewSessionStore()}, SessionConfig{})
	require.NoError(t, err)
	_, err = failing.Create(context.Background(), "user-1", time.Hour)
	assert.True(t, errors.Is(err, errStoreDown))

	broken, _, _ := newTestSessions(t)
	broken.token = func() (string, error) { return "", errors.New("entropy exhausted") }
	_, err = broken.Create(context.Background(), "user-1", time.Hour)
	assert.Error(t, err)
}

func TestSessionManager_RunSweeperStopsWithContext(t *testing.T) {
	manager, _, _ := newTestSessions(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- manager.RunSweeper(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
