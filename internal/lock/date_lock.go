package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyDateSequence = "ordersync:seq:%s"

	releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

	refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
)

var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Lease is a held lock. Holders refresh it between units of work that may
// outlast the ttl; Refresh reports false once any covered key was lost.
// Release is safe to call more than once.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// DateLocker serializes invoice-number allocation per calendar date.
type DateLocker interface {
	// AcquireDates takes every date lock or none. ok is false when any date is held elsewhere.
	AcquireDates(ctx context.Context, dates []string, ttl time.Duration) (lease Lease, ok bool, err error)
}

func DateKey(date string) string {
	return fmt.Sprintf(keyDateSequence, strings.TrimSpace(date))
}

type RedisDateLocker struct {
	client  *redis.Client
	release *redis.Script
	refresh *redis.Script
	log     *zap.Logger
}

func NewDateLocker(client *redis.Client, log *zap.Logger) DateLocker {
	if client == nil {
		return NoopDateLocker{}
	}
	return &RedisDateLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
		refresh: redis.NewScript(refreshScript),
		log:     log.Named("lock.date"),
	}
}

type heldKey struct {
	key   string
	token string
}

type dateLease struct {
	locker *RedisDateLocker
	held   []heldKey
}

func (l *dateLease) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	if len(l.held) == 0 {
		return false, nil
	}
	for _, h := range l.held {
		n, err := l.locker.refresh.Run(ctx, l.locker.client, []string{h.key}, h.token, ttl.Milliseconds()).Int()
		if err != nil {
			return false, err
		}
		if n == 0 {
			l.locker.log.Warn("lock.date.lost", zap.String("key", h.key))
			return false, nil
		}
	}
	return true, nil
}

func (l *dateLease) Release(ctx context.Context) error {
	var errs []error
	for _, h := range l.held {
		if err := l.locker.release.Run(ctx, l.locker.client, []string{h.key}, h.token).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	l.held = l.held[:0]
	return errors.Join(errs...)
}

func (l *RedisDateLocker) AcquireDates(ctx context.Context, dates []string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	// Sorted acquisition order keeps two jobs touching overlapping dates from deadlocking.
	sorted := uniqueSorted(dates)
	lease := &dateLease{locker: l, held: make([]heldKey, 0, len(sorted))}

	for _, date := range sorted {
		key := DateKey(date)
		token := uuid.NewString()
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			_ = lease.Release(ctx)
			return nil, false, err
		}
		if !ok {
			l.log.Debug("lock.date.busy", zap.String("key", key))
			if err := lease.Release(ctx); err != nil {
				l.log.Warn("lock.date.release_failed", zap.Error(err))
			}
			return nil, false, nil
		}
		lease.held = append(lease.held, heldKey{key: key, token: token})
	}
	return lease, true, nil
}

type NoopDateLocker struct{}

func (NoopDateLocker) AcquireDates(ctx context.Context, dates []string, ttl time.Duration) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Refresh(context.Context, time.Duration) (bool, error) { return true, nil }

func (noopLease) Release(context.Context) error { return nil }

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
