// Package redis disponibiliza o CounterStore baseado em Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

// consumeScript runs the whole read-decide-increment-expire sequence on the
// server, so concurrent callers on one key are serialized by Redis itself.
// The expiry is only set by the call that creates the key.
//
// KEYS[1] counter key, ARGV[1] limit, ARGV[2] window in milliseconds.
// Returns {consumed (0|1), count, pttl}.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count, redis.call('PTTL', KEYS[1])}
`)

type Storage struct {
	client redis.UniversalClient
}

var _ ports.CounterStore = (*Storage)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Storage{client: client}, nil
}

// NewWithClient wraps an existing client; the caller keeps ownership of it.
func NewWithClient(client redis.UniversalClient) *Storage {
	return &Storage{client: client}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Consume(ctx context.Context, key string, limit int64, window time.Duration) (domain.CounterState, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := consumeScript.Run(ctx, s.client, []string{key}, limit, windowMs).Int64Slice()
	if err != nil {
		return domain.CounterState{}, fmt.Errorf("%w: consume %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if len(res) != 3 {
		return domain.CounterState{}, fmt.Errorf("%w: consume %s: unexpected reply %v", domain.ErrStoreUnavailable, key, res)
	}

	return domain.CounterState{
		Consumed: res[0] == 1,
		Count:    res[1],
		TTL:      pttl(res[2]),
	}, nil
}

func (s *Storage) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return n, nil
}

func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	// -2 (missing) and -1 (no expiry) both come back negative.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Storage) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: reset %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

func pttl(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
