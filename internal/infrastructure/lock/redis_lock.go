package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	domainErrors "github.com/wekeepgrowing/appstore-reconciler/internal/domain/errors"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

const keyPrefix = "lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements provider.Locker with SET NX PX.
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	waitTimeout   time.Duration
	retryInterval time.Duration
	clock         clock.Clock
	logger        *zap.Logger
}

// NewRedisLocker creates a locker. Lock holders must finish within cfg.TTL.
func NewRedisLocker(client *redis.Client, cfg config.LockConfig, clk clock.Clock, logger *zap.Logger) *RedisLocker {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		ttl:           cfg.TTL,
		waitTimeout:   cfg.WaitTimeout,
		retryInterval: retry,
		clock:         clk,
		logger:        logger,
	}
}

// Acquire polls until the key is free, ctx ends, or the wait timeout passes.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (provider.Lock, error) {
	fullKey := keyPrefix + key
	token := uuid.NewString()
	deadline := l.clock.Now().Add(l.waitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{locker: l, key: fullKey, token: token}, nil
		}

		if !l.clock.Now().Before(deadline) {
			l.logger.Warn("lock wait timed out",
				zap.String("key", key),
				zap.Duration("wait_timeout", l.waitTimeout))
			return nil, fmt.Errorf("%w: %s", domainErrors.ErrLockTimeout, key)
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release frees the lock. Releasing a lock that already expired is not an error.
func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		l.locker.logger.Warn("lock expired before release", zap.String("key", l.key))
	}
	return nil
}
