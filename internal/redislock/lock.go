package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor day lock not acquired")
)

// Locker guards a doctor's calendar day while a booking operation runs.
// This only reduces contention between instances; the non-overlap invariant
// itself is enforced inside the storage transaction.
type Locker interface {
	WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day string, fn func(ctx context.Context) error) error
}

type redisDayLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDayLocker creates a locker that uses a per doctor-day Redis key
func NewRedisDayLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDayLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisDayLocker) WithDoctorDayLock(ctx context.Context, doctorID uuid.UUID, day string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:doctor:%s:%s", doctorID.String(), day)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire doctor day lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor day lock: %w", err)
	}
	return nil
}

// NopLocker runs the critical section without any cross-process lock. Used
// when Redis is not configured; safe because the storage layer still rejects
// conflicting writes.
type NopLocker struct{}

func (NopLocker) WithDoctorDayLock(ctx context.Context, _ uuid.UUID, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
