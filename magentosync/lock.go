package magentosync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shipstream/magento-sync/config"
)

const (
	lockAttempts     = 20
	lockPollInterval = time.Second
	lockStaleAfter   = time.Minute
)

// ImportLock serializes order import against the inventory-sync path across
// process invocations. It is a cooperative advisory lock over the external
// state store: acquisition is read-then-write, so two processes can in
// principle both observe "unlocked" and both write "locked". That race is
// accepted; the staleness override below is what lets the system self-heal
// after a crashed holder.
type ImportLock struct {
	state  StateStore
	logger *logrus.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

func NewImportLock(state StateStore, logger *logrus.Logger) *ImportLock {
	return &ImportLock{
		state:  state,
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Acquire polls the lock slot once per second for up to 20 attempts. The slot
// is writable when it is absent, reads "unlocked", carries no timestamp, or
// its holder's last write is at least a minute old. Exhausting the budget
// returns ErrLockTimeout.
func (l *ImportLock) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		entry, err := l.state.GetState(ctx, stateLockOrderPull)
		if err != nil {
			return err
		}
		if entry == nil || entry.Value == "" || entry.Value == "unlocked" || entry.UpdatedAt.IsZero() {
			if err := l.state.SetState(ctx, stateLockOrderPull, "locked"); err == nil {
				return nil
			}
		} else if l.now().Sub(entry.UpdatedAt) >= lockStaleAfter {
			// Stale holder: steal.
			if err := l.state.SetState(ctx, stateLockOrderPull, "locked"); err == nil {
				return nil
			}
		}
		l.sleep(lockPollInterval)
	}
	return ErrLockTimeout
}

// Release writes "unlocked". Failures are logged, never raised: cleanup must
// not mask the primary error, and a leaked lock goes stale within a minute
// anyway.
func (l *ImportLock) Release(ctx context.Context) {
	if err := l.state.SetState(ctx, stateLockOrderPull, "unlocked"); err != nil {
		config.LogError(l.logger, "magentosync", "Release", "cannot unlock order importing", nil, err)
	}
}

// IsLocked is the non-blocking advisory check used by the sync engine to skip
// a run that would contend with an in-flight import batch.
func (l *ImportLock) IsLocked(ctx context.Context) (bool, error) {
	entry, err := l.state.GetState(ctx, stateLockOrderPull)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Value == "locked", nil
}
