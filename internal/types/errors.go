package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyClaimed is returned when claiming an issue that already has a claimant.
	ErrAlreadyClaimed = errors.New("issue already claimed")
	// ErrNotClaimed is returned when releasing an issue nobody holds.
	ErrNotClaimed = errors.New("issue not claimed")
	// ErrInvalidID is returned for IDs that do not match the mn-<hex> pattern.
	ErrInvalidID = errors.New("invalid issue id")
	// ErrInvalidTitle is returned for empty or over-long titles.
	ErrInvalidTitle = errors.New("invalid title")
	// ErrInvalidIssue is returned by Validate for records that break an invariant.
	ErrInvalidIssue = errors.New("invalid issue")
	// ErrInvalidEvent is returned by SessionEvent.Validate.
	ErrInvalidEvent = errors.New("invalid session event")
	// ErrInvalidStatus is returned by ParseStatus.
	ErrInvalidStatus = errors.New("invalid status")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// Is reports whether target is ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
