package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyJobInvocation = "ordersync:job:%s:%s"

// JobGuard keeps a duplicate continuation delivery from running a job twice at once.
type JobGuard interface {
	Acquire(ctx context.Context, kind, jobID string, ttl time.Duration) (lease Lease, ok bool, err error)
}

func JobKey(kind, jobID string) string {
	return fmt.Sprintf(keyJobInvocation, kind, jobID)
}

type RedisJobGuard struct {
	locker *redislock.Client
	log    *zap.Logger
}

func NewJobGuard(client *redis.Client, log *zap.Logger) JobGuard {
	if client == nil {
		return NoopJobGuard{}
	}
	return &RedisJobGuard{
		locker: redislock.New(client),
		log:    log.Named("lock.job"),
	}
}

func (g *RedisJobGuard) Acquire(ctx context.Context, kind, jobID string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	key := JobKey(kind, jobID)
	l, err := g.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		g.log.Info("lock.job.busy", zap.String("key", key))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &jobLease{lock: l, log: g.log}, true, nil
}

type jobLease struct {
	lock *redislock.Lock
	log  *zap.Logger
}

func (l *jobLease) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	err := l.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.log.Warn("lock.job.lost", zap.String("key", l.lock.Key()))
		return false, nil
	}
	return err == nil, err
}

func (l *jobLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

type NoopJobGuard struct{}

func (NoopJobGuard) Acquire(ctx context.Context, kind, jobID string, ttl time.Duration) (Lease, bool, error) {
	return noopLease{}, true, nil
}
