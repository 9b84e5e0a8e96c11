package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/sirupsen/logrus"
)

var ErrEmptyLockKey = errors.New("lock key cannot be empty")

// AccountLocker serializes mutations of a single account.
type AccountLocker interface {
	WithLock(ctx context.Context, accountID string, fn func(context.Context) error) error
}

// LockOptions configures the distributed account lock.
type LockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

func accountLockKey(accountID string) string {
	return "lock:account:" + accountID
}

// RedisAccountLocker holds a redsync mutex per account so that appends are
// serialized across every instance sharing the Redis server.
type RedisAccountLocker struct {
	redsync *redsync.Redsync
	opts    LockOptions
	logger  logrus.FieldLogger
}

func NewRedisAccountLocker(client *redis.Client, opts LockOptions, logger logrus.FieldLogger) *RedisAccountLocker {
	return &RedisAccountLocker{
		redsync: redsync.New(goredis.NewPool(client)),
		opts:    opts,
		logger:  logger.WithField("component", "account_lock"),
	}
}

func (l *RedisAccountLocker) WithLock(ctx context.Context, accountID string, fn func(context.Context) error) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrEmptyLockKey
	}

	key := accountLockKey(accountID)
	mutex := l.redsync.NewMutex(
		key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		l.logger.WithError(err).WithField("lock_key", key).Error("failed to acquire lock")
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{"lock_key": key, "unlock_ok": ok}).Error("failed to release lock")
		}
	}()

	return fn(ctx)
}

// LocalAccountLocker is the single-process fallback used when Redis is unavailable.
// Each account has a one-slot semaphore so waiters give up when ctx is done.
type LocalAccountLocker struct {
	mu    sync.Mutex
	slots map[string]*accountSlot
}

type accountSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalAccountLocker() *LocalAccountLocker {
	return &LocalAccountLocker{slots: make(map[string]*accountSlot)}
}

func (l *LocalAccountLocker) WithLock(ctx context.Context, accountID string, fn func(context.Context) error) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrEmptyLockKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slot := l.ref(accountID)
	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(accountID, slot)
		return ctx.Err()
	}
	defer func() {
		<-slot.sem
		l.unref(accountID, slot)
	}()

	return fn(ctx)
}

func (l *LocalAccountLocker) ref(accountID string) *accountSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[accountID]
	if !ok {
		slot = &accountSlot{sem: make(chan struct{}, 1)}
		l.slots[accountID] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalAccountLocker) unref(accountID string, slot *accountSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, accountID)
	}
}
