// Package lockfile wraps OS advisory file locks (flock on unix, LockFileEx on
// windows) with optional bounded waits.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockBusy is returned by the non-blocking lock calls when another handle
// holds a conflicting lock.
var ErrLockBusy = errors.New("lock busy")

// ErrLockTimeout is returned by Acquire when the wait budget is exhausted.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Mode selects a shared or exclusive lock.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// pollInterval is how often Acquire retries a busy lock.
const pollInterval = 20 * time.Millisecond

// Acquire locks f in the given mode.
//
// With timeout <= 0 and a context that can never be cancelled, Acquire blocks
// in the kernel until the lock is granted. Otherwise it polls a non-blocking
// lock until it succeeds, the timeout elapses (ErrLockTimeout) or ctx ends.
func Acquire(ctx context.Context, f *os.File, mode Mode, timeout time.Duration) error {
	if timeout <= 0 && ctx.Done() == nil {
		if mode == Exclusive {
			return FlockExclusiveBlocking(f)
		}
		return FlockSharedBlocking(f)
	}

	try := FlockSharedNonBlock
	if mode == Exclusive {
		try = FlockExclusiveNonBlock
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		err := try(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s lock on %s: %w", mode, f.Name(), ctx.Err())
		case <-deadline:
			return fmt.Errorf("%w: %s lock on %s after %v", ErrLockTimeout, mode, f.Name(), timeout)
		case <-ticker.C:
		}
	}
}
