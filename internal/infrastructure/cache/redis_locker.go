package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLockRetryInterval is the pause between attempts on a held lock
const DefaultLockRetryInterval = 100 * time.Millisecond

// RedisVerificationLocker implements VerificationLocker with redislock so
// that several server instances do not verify the same delivery at once
type RedisVerificationLocker struct {
	client        *redis.Client
	locker        *redislock.Client
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewRedisVerificationLocker wraps an existing Redis client
func NewRedisVerificationLocker(client *redis.Client, logger *zap.Logger) *RedisVerificationLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisVerificationLocker{
		client:        client,
		locker:        redislock.New(client),
		retryInterval: DefaultLockRetryInterval,
		logger:        logger,
	}
}

// Acquire retries until the lock is obtained, ctx ends or ttl has elapsed.
// A lock still held after ttl returns ErrLockNotObtained.
func (l *RedisVerificationLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	lock, err := l.locker.Obtain(waitCtx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retryInterval),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, reconciliation.ErrLockNotObtained
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("Failed to release verification lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// Ping checks that Redis answers
func (l *RedisVerificationLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *RedisVerificationLocker) Close() error {
	return l.client.Close()
}

var _ reconciliation.VerificationLocker = (*RedisVerificationLocker)(nil)
