// Package storage defines the persistence contract for issues and session
// events, and the error categories every implementation reports.
//
// The on-disk implementation lives in the jsonl sub-package; memory provides
// an in-process double for tests.
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/manna/internal/types"
)

// ErrNotInitialized is returned when the store directory or one of its files
// is missing. Run init first.
var ErrNotInitialized = errors.New("store not initialized")

// ErrNotFound is returned when a requested issue does not exist.
var ErrNotFound = errors.New("issue not found")

// ErrAlreadyExists is returned when creating an issue whose ID is taken.
var ErrAlreadyExists = errors.New("issue already exists")

// ErrLockFailed is returned when a file lock could not be acquired. Callers
// may retry; implementations never do.
var ErrLockFailed = errors.New("failed to acquire lock")

// ErrIO wraps filesystem failures.
var ErrIO = errors.New("i/o error")

// ErrSerialization wraps encode/decode failures on a required record.
var ErrSerialization = errors.New("serialization error")

// Store is the durable collection of issues and session events.
//
// Values returned by the Load methods are copies owned by the caller.
type Store interface {
	// Init creates the store if missing. Calling it again is a no-op.
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)

	LoadIssues(ctx context.Context) ([]*types.Issue, error)
	AppendIssue(ctx context.Context, issue *types.Issue) error
	// UpdateIssue replaces the stored record with the same ID.
	UpdateIssue(ctx context.Context, issue *types.Issue) error

	LoadSessions(ctx context.Context) ([]*types.SessionEvent, error)
	AppendSession(ctx context.Context, event *types.SessionEvent) error
}

// IsUserError reports whether err is caused by the request rather than the
// environment: missing or duplicate records, rejected transitions, bad input
// and an uninitialized store.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrNotInitialized,
		types.ErrInvalidTransition,
		types.ErrAlreadyClaimed,
		types.ErrNotClaimed,
		types.ErrInvalidID,
		types.ErrInvalidTitle,
		types.ErrInvalidIssue,
		types.ErrInvalidEvent,
		types.ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
