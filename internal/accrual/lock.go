package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrPassRunning is returned when another worker holds the pass lock.
var ErrPassRunning = errors.New("accrual pass already running")

// PassLock keeps two processes from running the same pass at once. Entity
// level idempotency still holds without it.
type PassLock interface {
	Acquire(ctx context.Context, pass Pass) (release func(), err error)
}

// NoopPassLock always grants the lock.
type NoopPassLock struct{}

func (NoopPassLock) Acquire(context.Context, Pass) (func(), error) {
	return func() {}, nil
}

const passLockPrefix = "corebank:accrual:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPassLock is a single-instance Redis lease. The lease expires after ttl
// so a crashed worker cannot block the pass forever.
type RedisPassLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPassLock builds a Redis backed pass lock.
func NewRedisPassLock(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisPassLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisPassLock{client: client, ttl: ttl, logger: logger}
}

func (l *RedisPassLock) Acquire(ctx context.Context, pass Pass) (func(), error) {
	key := passLockPrefix + string(pass)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPassRunning, pass)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("release pass lock", slog.String("pass", string(pass)), slog.Any("error", err))
		}
	}, nil
}
