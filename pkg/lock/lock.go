// Package lock implements a single-key distributed mutual-exclusion
// primitive on top of the shared key-value store. Acquisition is an atomic
// set-if-absent with a millisecond TTL; release is an owner-checked
// compare-and-delete script; an optional watchdog re-extends the lease while
// the protected task runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luojidr/easypush/pkg/logger"
)

// Store is the subset of the key-value store the lock depends on.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)
	ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	IsOwner(ctx context.Context, key, token string) (bool, error)
}

// ErrAcquireLock is returned when the lock could not be obtained before the
// configured deadline.
var ErrAcquireLock = errors.New("failed to acquire lock before deadline")

// ReleaseError reports a failed compare-and-delete on unlock. The lock then
// relies on TTL expiry as the ultimate safety net, so callers log this loudly
// but must not let it mask the protected task's own outcome.
type ReleaseError struct {
	Key string
	Err error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to release lock %q: %v", e.Key, e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// TaskError wraps an error raised by the protected task itself, so lock
// callers can tell infrastructure failures from business failures.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string { return fmt.Sprintf("protected task failed: %v", e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// Options tunes one lock acquisition.
type Options struct {
	TTL            time.Duration // lease duration, default 10m
	PollInterval   time.Duration // retry sleep while blocked, default 100ms
	MaxWait        time.Duration // 0 waits indefinitely
	Watchdog       bool          // renew the lease while the task runs
	WatchInterval  time.Duration // watchdog polling interval, default 100ms
	RenewThreshold float64       // fraction of the lease after which to renew, default 0.7
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = 100 * time.Millisecond
	}
	if o.RenewThreshold <= 0 || o.RenewThreshold >= 1 {
		o.RenewThreshold = 0.7
	}
	return o
}

type Locker struct {
	store Store
}

func New(store Store) *Locker {
	return &Locker{store: store}
}

// Acquire blocks until the lock is obtained, polling the store at the
// configured interval. The returned token identifies this acquisition and is
// required to release.
func (l *Locker) Acquire(ctx context.Context, key string, opts Options) (string, error) {
	opts = opts.withDefaults()

	var deadline time.Time
	if opts.MaxWait > 0 {
		deadline = time.Now().Add(opts.MaxWait)
	}

	token := uuid.NewString()

	for {
		acquired, err := l.store.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			return "", fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if acquired {
			return token, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", ErrAcquireLock
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}

// Release deletes the lock only when token still owns it. A lost lease (key
// expired and possibly re-acquired by another party) is a no-op, never an
// error: deleting the new owner's lock is exactly what the compare script
// prevents.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	released, err := l.store.ReleaseIfOwner(ctx, key, token)
	if err != nil {
		return &ReleaseError{Key: key, Err: err}
	}
	if !released {
		logger.Warnf("Lock %q no longer owned at release, relying on TTL expiry", key)
	}

	return nil
}

// Do runs task under the lock. before, when non-nil, runs on every polling
// iteration and short-circuits the whole acquisition when it yields a
// non-nil result, so contenders skip the lock once another party already
// completed the work.
//
// The lock is always released, task error or not. A release failure is
// joined to the task outcome rather than replacing it.
func (l *Locker) Do(
	ctx context.Context,
	key string,
	opts Options,
	before func(ctx context.Context) (any, error),
	task func(ctx context.Context) (any, error),
) (any, error) {
	opts = opts.withDefaults()

	var deadline time.Time
	if opts.MaxWait > 0 {
		deadline = time.Now().Add(opts.MaxWait)
	}

	token := uuid.NewString()

	for {
		if before != nil {
			result, err := before(ctx)
			if err != nil {
				return nil, fmt.Errorf("lock pre-check failed: %w", err)
			}
			if result != nil {
				return result, nil
			}
		}

		acquired, err := l.store.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}

		if acquired {
			return l.runLocked(ctx, key, token, opts, task)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrAcquireLock
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}

func (l *Locker) runLocked(
	ctx context.Context,
	key, token string,
	opts Options,
	task func(ctx context.Context) (any, error),
) (result any, err error) {
	var stopWatch chan struct{}
	if opts.Watchdog {
		stopWatch = make(chan struct{})
		go l.watch(ctx, key, token, opts, stopWatch)
	}

	defer func() {
		if stopWatch != nil {
			close(stopWatch)
		}

		if relErr := l.Release(ctx, key, token); relErr != nil {
			logger.Errorf("Lock release failed after task: %v", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	result, taskErr := task(ctx)
	if taskErr != nil {
		return nil, &TaskError{Err: taskErr}
	}

	return result, nil
}

// watch renews the lease while the protected task is still running. It exits
// as soon as the key is no longer owned by token, on stop, or on context
// cancellation.
func (l *Locker) watch(ctx context.Context, key, token string, opts Options, stop <-chan struct{}) {
	leaseStart := time.Now()

	ticker := time.NewTicker(opts.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		owned, err := l.store.IsOwner(ctx, key, token)
		if err != nil {
			logger.Warnf("Lock watchdog liveness check failed for %q: %v", key, err)
			continue
		}
		if !owned {
			return
		}

		elapsed := time.Since(leaseStart)
		if float64(elapsed) >= opts.RenewThreshold*float64(opts.TTL) {
			extended, err := l.store.ExtendIfOwner(ctx, key, token, opts.TTL)
			if err != nil {
				logger.Warnf("Lock watchdog failed to extend %q: %v", key, err)
				continue
			}
			if !extended {
				return
			}

			leaseStart = time.Now()
			logger.Debugf("Lock %q lease extended by %v", key, opts.TTL)
		}
	}
}
