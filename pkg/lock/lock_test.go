package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with the same owner-checked and
// lease-expiry semantics as the scripted server-side operations: an expired
// key behaves as absent on every operation.
type lease struct {
	token     string
	expiresAt time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	leases map[string]lease

	setNXErr   error
	releaseErr error
	extendHits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{leases: make(map[string]lease)}
}

// ownerLocked resolves the live owner of key, dropping an expired lease.
// Callers must hold s.mu.
func (s *fakeStore) ownerLocked(key string) string {
	l, held := s.leases[key]
	if !held {
		return ""
	}
	if time.Now().After(l.expiresAt) {
		delete(s.leases, key)
		return ""
	}
	return l.token
}

func (s *fakeStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setNXErr != nil {
		return false, s.setNXErr
	}
	if s.ownerLocked(key) != "" {
		return false, nil
	}
	s.leases[key] = lease{token: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *fakeStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.releaseErr != nil {
		return false, s.releaseErr
	}
	if s.ownerLocked(key) != token {
		return false, nil
	}
	delete(s.leases, key)
	return true, nil
}

func (s *fakeStore) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ownerLocked(key) != token {
		return false, nil
	}
	s.leases[key] = lease{token: token, expiresAt: time.Now().Add(ttl)}
	s.extendHits++
	return true, nil
}

func (s *fakeStore) IsOwner(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerLocked(key) == token, nil
}

func (s *fakeStore) owner(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerLocked(key)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	token, err := locker.Acquire(ctx, "locks:test", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if store.owner("locks:test") != token {
		t.Fatalf("store does not hold the returned token")
	}

	if err := locker.Release(ctx, "locks:test", token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if store.owner("locks:test") != "" {
		t.Errorf("lock still held after release")
	}
}

func TestAcquire_BlocksUntilReleased(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	first, err := locker.Acquire(ctx, "locks:test", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}

	acquired := make(chan string, 1)
	go func() {
		token, err := locker.Acquire(ctx, "locks:test", Options{
			TTL:          time.Minute,
			PollInterval: time.Millisecond,
		})
		if err != nil {
			t.Errorf("second Acquire returned error: %v", err)
		}
		acquired <- token
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire succeeded while lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	if err := locker.Release(ctx, "locks:test", first); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	select {
	case token := <-acquired:
		if token == first {
			t.Errorf("second acquisition reused the first token")
		}
	case <-time.After(time.Second):
		t.Fatalf("second acquire did not proceed after release")
	}
}

func TestAcquire_MaxWaitExpires(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	if _, err := locker.Acquire(ctx, "locks:test", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	_, err := locker.Acquire(ctx, "locks:test", Options{
		TTL:          time.Minute,
		PollInterval: time.Millisecond,
		MaxWait:      5 * time.Millisecond,
	})
	if !errors.Is(err, ErrAcquireLock) {
		t.Fatalf("expected ErrAcquireLock, got %v", err)
	}
}

func TestAcquire_LeaseExpiryFreesLock(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	// No watchdog: the holder outlives its lease and loses the lock.
	ttl := 50 * time.Millisecond
	first, err := locker.Acquire(ctx, "locks:test", Options{TTL: ttl})
	if err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}

	start := time.Now()
	second, err := locker.Acquire(ctx, "locks:test", Options{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
		MaxWait:      2 * time.Second,
	})
	if err != nil {
		t.Fatalf("second Acquire returned error: %v", err)
	}

	if waited := time.Since(start); waited < ttl-10*time.Millisecond {
		t.Errorf("second acquire went through after %v, before the %v lease expired", waited, ttl)
	}
	if second == first {
		t.Fatalf("second acquisition reused the expired token")
	}

	// The expired holder's release must not disturb the new owner.
	if err := locker.Release(ctx, "locks:test", first); err != nil {
		t.Fatalf("Release of expired token returned error: %v", err)
	}
	if store.owner("locks:test") != second {
		t.Errorf("expired holder's release removed the new owner's lock")
	}
}

func TestDo_MutualExclusionUnderContention(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	const workers = 8

	var inCritical atomic.Int32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := locker.Do(ctx, "locks:counter", Options{
				TTL:          time.Minute,
				PollInterval: time.Millisecond,
			}, nil, func(ctx context.Context) (any, error) {
				if inCritical.Add(1) != 1 {
					t.Errorf("two holders inside the critical section")
				}

				// Unprotected read-modify-write with an artificial delay;
				// any overlap would lose increments.
				v := counter
				time.Sleep(2 * time.Millisecond)
				counter = v + 1

				inCritical.Add(-1)
				return nil, nil
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("expected counter=%d, got %d", workers, counter)
	}
}

func TestRelease_NotOwnerIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	token, err := locker.Acquire(ctx, "locks:test", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	// A stale token must not disturb the current owner.
	if err := locker.Release(ctx, "locks:test", "stale-token"); err != nil {
		t.Fatalf("Release with stale token returned error: %v", err)
	}
	if store.owner("locks:test") != token {
		t.Errorf("stale release removed the current owner's lock")
	}
}

func TestDo_RunsTaskAndReleases(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	ran := false
	result, err := locker.Do(ctx, "locks:test", Options{TTL: time.Minute}, nil,
		func(ctx context.Context) (any, error) {
			ran = true
			if store.owner("locks:test") == "" {
				t.Errorf("task ran without holding the lock")
			}
			return "done", nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if !ran {
		t.Fatalf("task did not run")
	}
	if result != "done" {
		t.Errorf("expected result %q, got %v", "done", result)
	}
	if store.owner("locks:test") != "" {
		t.Errorf("lock still held after Do")
	}
}

func TestDo_BeforeHookShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	taskRan := false
	result, err := locker.Do(ctx, "locks:test", Options{TTL: time.Minute},
		func(ctx context.Context) (any, error) {
			return "already-done", nil
		},
		func(ctx context.Context) (any, error) {
			taskRan = true
			return nil, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if taskRan {
		t.Errorf("task ran despite the before hook short-circuit")
	}
	if result != "already-done" {
		t.Errorf("expected before-hook result, got %v", result)
	}
	if store.owner("locks:test") != "" {
		t.Errorf("short-circuit left the lock held")
	}
}

func TestDo_TaskErrorIsWrappedAndLockReleased(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	taskErr := fmt.Errorf("backend exploded")
	_, err := locker.Do(ctx, "locks:test", Options{TTL: time.Minute}, nil,
		func(ctx context.Context) (any, error) {
			return nil, taskErr
		})

	var wrapped *TaskError
	if !errors.As(err, &wrapped) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if !errors.Is(err, taskErr) {
		t.Errorf("TaskError does not unwrap to the task error")
	}
	if store.owner("locks:test") != "" {
		t.Errorf("lock still held after failed task")
	}
}

func TestDo_ReleaseFailureDoesNotMaskTaskError(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	taskErr := fmt.Errorf("task failed")
	_, err := locker.Do(ctx, "locks:test", Options{TTL: time.Minute}, nil,
		func(ctx context.Context) (any, error) {
			store.mu.Lock()
			store.releaseErr = fmt.Errorf("store unreachable")
			store.mu.Unlock()
			return nil, taskErr
		})

	if !errors.Is(err, taskErr) {
		t.Fatalf("task error was masked by the release failure: %v", err)
	}
}

func TestDo_WatchdogExtendsLease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := New(store)

	_, err := locker.Do(ctx, "locks:test", Options{
		TTL:            40 * time.Millisecond,
		Watchdog:       true,
		WatchInterval:  5 * time.Millisecond,
		RenewThreshold: 0.5,
	}, nil, func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}

	store.mu.Lock()
	hits := store.extendHits
	store.mu.Unlock()

	if hits == 0 {
		t.Errorf("watchdog never extended the lease")
	}
}
