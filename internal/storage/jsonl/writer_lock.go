package jsonl

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/storage"
)

const (
	// writerLockFileName guards every mutation of issues.jsonl. Appends and
	// rewrites both hold it, so an append can never land in a file that a
	// concurrent rewrite is about to rename away.
	writerLockFileName = ".issues.lock"

	// writerLockPollInterval is how often to retry a bounded acquire.
	writerLockPollInterval = 20 * time.Millisecond
)

// writerLock is an exclusive sidecar lock serializing issue writers across
// processes.
type writerLock struct {
	flock *flock.Flock
}

func newWriterLock(dir string) *writerLock {
	return &writerLock{flock: flock.New(filepath.Join(dir, writerLockFileName))}
}

// acquire blocks until the lock is held. A positive timeout bounds the wait;
// a cancellable ctx aborts it. Both failures map to storage.ErrLockFailed.
func (l *writerLock) acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()

	if timeout <= 0 && ctx.Done() == nil {
		if err := l.flock.Lock(); err != nil {
			return fmt.Errorf("%w: writer lock %s: %w", storage.ErrLockFailed, l.flock.Path(), err)
		}
		debug.Logf("acquired writer lock %s", l.flock.Path())
		return nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	locked, err := l.flock.TryLockContext(waitCtx, writerLockPollInterval)
	if err != nil || !locked {
		if err == nil {
			err = waitCtx.Err()
		}
		return fmt.Errorf("%w: writer lock %s after %v (another process may be writing, try again in a moment): %w",
			storage.ErrLockFailed, l.flock.Path(), time.Since(start).Round(time.Millisecond), err)
	}
	debug.Logf("acquired writer lock %s after %v", l.flock.Path(), time.Since(start))
	return nil
}

// release is safe to call more than once.
func (l *writerLock) release() {
	if err := l.flock.Unlock(); err != nil {
		debug.Logf("releasing writer lock %s: %v", l.flock.Path(), err)
	}
}

// withWriterLock runs fn while holding the writer lock.
func (s *Store) withWriterLock(ctx context.Context, fn func() error) error {
	lock := newWriterLock(s.dir)
	if err := lock.acquire(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer lock.release()
	return fn()
}
