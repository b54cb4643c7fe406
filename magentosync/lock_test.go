package magentosync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shipstream/magento-sync/config"
)

// memStateStore is an in-memory StateStore whose write timestamps come from
// an injectable clock.
type memStateStore struct {
	entries map[string]StateEntry
	now     func() time.Time
	getErr  error
	setErr  error
}

func newMemStateStore(now func() time.Time) *memStateStore {
	if now == nil {
		now = time.Now
	}
	return &memStateStore{entries: map[string]StateEntry{}, now: now}
}

func (s *memStateStore) GetState(_ context.Context, key string) (*StateEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memStateStore) SetState(_ context.Context, key string, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[key] = StateEntry{Value: value, UpdatedAt: s.now()}
	return nil
}

func (s *memStateStore) DeleteState(_ context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

// testClock advances only when something sleeps.
type testClock struct {
	at time.Time
}

func (c *testClock) now() time.Time { return c.at }

func (c *testClock) sleep(d time.Duration) { c.at = c.at.Add(d) }

func newTestLock(state StateStore, clock *testClock) *ImportLock {
	lock := NewImportLock(state, config.GetLogger())
	lock.now = clock.now
	lock.sleep = clock.sleep
	return lock
}

func TestImportLockAcquire_FreeSlot(t *testing.T) {
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	for _, seed := range []*StateEntry{
		nil,
		{Value: "unlocked", UpdatedAt: clock.at},
		{Value: ""},
		{Value: "locked"}, // no timestamp on record
	} {
		state := newMemStateStore(clock.now)
		if seed != nil {
			state.entries[stateLockOrderPull] = *seed
		}
		lock := newTestLock(state, clock)

		if err := lock.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire with seed %+v: %v", seed, err)
		}
		if got := state.entries[stateLockOrderPull].Value; got != "locked" {
			t.Fatalf("lock slot = %q, want locked", got)
		}
	}
}

func TestImportLockAcquire_TimesOutOnFreshHolder(t *testing.T) {
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newMemStateStore(clock.now)
	state.entries[stateLockOrderPull] = StateEntry{Value: "locked", UpdatedAt: clock.at}
	lock := newTestLock(state, clock)

	start := clock.at
	err := lock.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Acquire = %v, want ErrLockTimeout", err)
	}
	// 20 one-second polls: never enough to cross the one-minute staleness
	// threshold, so the holder keeps the lock.
	if elapsed := clock.at.Sub(start); elapsed != 20*time.Second {
		t.Fatalf("polled for %v, want 20s", elapsed)
	}
	if got := state.entries[stateLockOrderPull].Value; got != "locked" {
		t.Fatalf("lock slot = %q, want untouched locked", got)
	}
}

func TestImportLockAcquire_StealsStaleHolder(t *testing.T) {
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newMemStateStore(clock.now)
	state.entries[stateLockOrderPull] = StateEntry{Value: "locked", UpdatedAt: clock.at.Add(-61 * time.Second)}
	lock := newTestLock(state, clock)

	start := clock.at
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if clock.at != start {
		t.Fatal("stale lock should be stolen without sleeping")
	}
	if got := state.entries[stateLockOrderPull].UpdatedAt; got != start {
		t.Fatalf("stolen lock timestamp = %v, want %v", got, start)
	}
}

func TestImportLockAcquire_HolderGoesStaleMidWait(t *testing.T) {
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newMemStateStore(clock.now)
	// 50 seconds old: becomes stealable on the 10th poll.
	state.entries[stateLockOrderPull] = StateEntry{Value: "locked", UpdatedAt: clock.at.Add(-50 * time.Second)}
	lock := newTestLock(state, clock)

	start := clock.at
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := clock.at.Sub(start); elapsed != 10*time.Second {
		t.Fatalf("acquired after %v, want 10s", elapsed)
	}
}

func TestImportLockReleaseAndIsLocked(t *testing.T) {
	clock := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newMemStateStore(clock.now)
	lock := newTestLock(state, clock)
	ctx := context.Background()

	if err := lock.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if locked, err := lock.IsLocked(ctx); err != nil || !locked {
		t.Fatalf("IsLocked after Acquire = %v, %v; want true", locked, err)
	}

	lock.Release(ctx)
	if locked, err := lock.IsLocked(ctx); err != nil || locked {
		t.Fatalf("IsLocked after Release = %v, %v; want false", locked, err)
	}

	// Release failures are swallowed; the lock goes stale on its own.
	state.setErr = errors.New("redis down")
	lock.Release(ctx)
}
