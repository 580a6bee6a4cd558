package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld means another process owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost means a held lock expired or was taken over before its
// holder finished.
var ErrLockLost = errors.New("lock lost")

// Locker hands out short-lived named locks.
type Locker struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewLocker(client *Client, ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Lock is a held lock. Release it when the guarded work is done.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the named lock with SET NX. It returns ErrLockHeld when
// someone else has it.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	k := key("lock", name)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{locker: l, key: k, token: token}, nil
}

// Refresh pushes the lock's expiry one TTL into the future. It returns
// ErrLockLost when the key no longer holds our token.
func (lk *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, lk.locker.client.rdb, []string{lk.key}, lk.token, lk.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis lock refresh failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", lk.key, ErrLockLost)
	}
	return nil
}

// Keep refreshes the lock every third of its TTL until stop is called.
// The returned context is derived from ctx and is cancelled as soon as a
// refresh fails, so work guarded by the lock stops once another process
// could take it. stop waits for the refresher to exit.
func (lk *Lock) Keep(ctx context.Context) (kept context.Context, stop func()) {
	kept, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	quit := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(lk.locker.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-kept.Done():
				return
			case <-ticker.C:
				if err := lk.Refresh(kept); err != nil {
					lk.locker.logger.Warn("lock refresh failed, stopping guarded work",
						zap.String("key", lk.key),
						zap.Error(err),
					)
					cancel(err)
					return
				}
			}
		}
	}()

	var once sync.Once
	return kept, func() {
		once.Do(func() {
			close(quit)
			<-done
			cancel(nil)
		})
	}
}

// Release drops the lock if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lk.locker.client.rdb, []string{lk.key}, lk.token).Int()
	if err != nil {
		return fmt.Errorf("redis lock release failed: %w", err)
	}
	if n == 0 {
		lk.locker.logger.Warn("lock expired before release", zap.String("key", lk.key))
	}
	return nil
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
