package main

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/storage"
)

// withLockRetry runs op, retrying lock failures with exponential backoff for
// up to a.lockRetry. Any other error stops immediately.
func withLockRetry[T any](ctx context.Context, a *app, op func() (T, error)) (T, error) {
	if a.lockRetry <= 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = a.lockRetry

	var result T
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		result, err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrLockFailed) {
			return backoff.Permanent(err)
		}
		debug.Logf("lock busy (attempt %d): %v", attempt, err)
		return err
	}, backoff.WithContext(b, ctx))
	return result, err
}
