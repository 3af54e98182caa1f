package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunLock гарантирует на стороне сервера не больше одного активного
// запуска генерации на историю, даже с нескольких инстансов.
type RunLock interface {
	// Acquire takes the lock for the story. Returns false when another
	// run already holds it.
	Acquire(ctx context.Context, storyID uuid.UUID) (bool, error)
	Release(ctx context.Context, storyID uuid.UUID) error
}

// Compile-time check
var _ RunLock = (*redisRunLock)(nil)

type redisRunLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRunLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) RunLock {
	return &redisRunLock{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisRunLock"),
	}
}

func lockKey(storyID uuid.UUID) string {
	return fmt.Sprintf("story_run_lock:%s", storyID)
}

func (l *redisRunLock) Acquire(ctx context.Context, storyID uuid.UUID) (bool, error) {
	// TTL страхует от вечного лока при падении инстанса без Release.
	ok, err := l.client.SetNX(ctx, lockKey(storyID), "1", l.ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire run lock", zap.String("storyID", storyID.String()), zap.Error(err))
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		l.logger.Debug("Run lock already held", zap.String("storyID", storyID.String()))
	}
	return ok, nil
}

func (l *redisRunLock) Release(ctx context.Context, storyID uuid.UUID) error {
	if err := l.client.Del(ctx, lockKey(storyID)).Err(); err != nil {
		l.logger.Error("Failed to release run lock", zap.String("storyID", storyID.String()), zap.Error(err))
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// NoopRunLock используется, когда Redis выключен конфигом: единственный
// инстанс полагается на собственную защелку запуска.
type NoopRunLock struct{}

var _ RunLock = (*NoopRunLock)(nil)

func (NoopRunLock) Acquire(ctx context.Context, storyID uuid.UUID) (bool, error) { return true, nil }
func (NoopRunLock) Release(ctx context.Context, storyID uuid.UUID) error         { return nil }
