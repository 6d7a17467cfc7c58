package cache

import (
	"context"
	"fmt"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Locker is a VerificationLocker owning resources released on shutdown
type Locker interface {
	reconciliation.VerificationLocker
	Ping(ctx context.Context) error
	Close() error
}

// LockerFactory creates verification lockers based on configuration
type LockerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// process-local locks. Default is true.
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns a Redis locker when Redis is enabled and reachable,
// otherwise an in-memory one (if fallback is allowed)
func (f *LockerFactory) CreateLocker(ctx context.Context) (Locker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory verification locks")
		return NewInMemoryVerificationLocker(), nil
	}

	client, err := NewRedisClient(ctx, RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("Using Redis verification locks", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisVerificationLocker(client, f.logger), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for verification locks but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory verification locks. "+
		"Instances may verify the same delivery concurrently.",
		zap.Error(err),
	)
	return NewInMemoryVerificationLocker(), nil
}
