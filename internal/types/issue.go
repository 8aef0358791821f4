// Package types defines the issue record, its status state machine and the
// session events that make up the audit log.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength is the longest title accepted, counted in characters.
const MaxTitleLength = 500

var idPattern = regexp.MustCompile(`^mn-[0-9a-f]{6,64}$`)

// timeNow is the clock used for all timestamps; tests replace it.
var timeNow = func() time.Time { return time.Now().UTC() }

// Status represents the lifecycle state of an issue.
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusBlocked, StatusDone}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// ParseStatus parses a status name case-insensitively. "in-progress" and
// "inprogress" are accepted as aliases for in_progress.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return StatusOpen, nil
	case "in_progress", "in-progress", "inprogress":
		return StatusInProgress, nil
	case "blocked":
		return StatusBlocked, nil
	case "done":
		return StatusDone, nil
	}
	return "", fmt.Errorf("%w: %q (want open, in_progress, blocked or done)", ErrInvalidStatus, s)
}

// ValidateID reports whether id matches the mn-<hex> pattern.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be \"mn-\" followed by 6-64 lowercase hex characters", ErrInvalidID, id)
	}
	return nil
}

// ValidateTitle checks the title length bounds.
func ValidateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return fmt.Errorf("%w: title is required", ErrInvalidTitle)
	}
	if n > MaxTitleLength {
		return fmt.Errorf("%w: title must be %d characters or less (got %d)", ErrInvalidTitle, MaxTitleLength, n)
	}
	return nil
}

// Issue is a unit of work tracked in issues.jsonl. Fields are mutated only
// through the transition methods below.
type Issue struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Status      Status     `json:"status" yaml:"status"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	BlockedBy   []string   `json:"blocked_by" yaml:"blocked_by"`
	ClaimedBy   string     `json:"claimed_by,omitempty" yaml:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" yaml:"claimed_at,omitempty"`
}

// NewIssue builds an open, unclaimed issue after validating id and title.
func NewIssue(id, title, description string) (*Issue, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateTitle(title); err != nil {
		return nil, err
	}
	now := timeNow()
	return &Issue{
		ID:          id,
		Title:       title,
		Status:      StatusOpen,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		BlockedBy:   []string{},
	}, nil
}

// MarshalJSON always writes blocked_by, as [] when empty.
func (i Issue) MarshalJSON() ([]byte, error) {
	type issueAlias Issue
	a := issueAlias(i)
	if a.BlockedBy == nil {
		a.BlockedBy = []string{}
	}
	return json.Marshal(a)
}

// UnmarshalJSON accepts records without blocked_by.
func (i *Issue) UnmarshalJSON(data []byte) error {
	type issueAlias Issue
	var a issueAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.BlockedBy == nil {
		a.BlockedBy = []string{}
	}
	*i = Issue(a)
	return nil
}

// touch advances UpdatedAt without ever moving it backwards.
func (i *Issue) touch() time.Time {
	now := timeNow()
	if now.Before(i.UpdatedAt) {
		now = i.UpdatedAt
	}
	i.UpdatedAt = now
	return now
}

// IsClaimed reports whether a session holds the issue.
func (i *Issue) IsClaimed() bool {
	return i.ClaimedBy != ""
}

// Claim assigns the issue to sessionID and moves it to in_progress.
func (i *Issue) Claim(sessionID string) error {
	if i.Status != StatusOpen {
		return &TransitionError{From: i.Status, To: StatusInProgress}
	}
	if i.IsClaimed() {
		return fmt.Errorf("%w: %s is held by %s", ErrAlreadyClaimed, i.ID, i.ClaimedBy)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required to claim", ErrInvalidIssue)
	}
	now := i.touch()
	i.ClaimedBy = sessionID
	i.ClaimedAt = &now
	i.Status = StatusInProgress
	return nil
}

// Release drops the claim and returns the issue to open.
func (i *Issue) Release() error {
	if !i.IsClaimed() {
		return fmt.Errorf("%w: %s", ErrNotClaimed, i.ID)
	}
	if i.Status != StatusInProgress {
		return &TransitionError{From: i.Status, To: StatusOpen}
	}
	i.touch()
	i.ClaimedBy = ""
	i.ClaimedAt = nil
	i.Status = StatusOpen
	return nil
}

// Complete marks an in-progress issue done. The claim is kept as history.
func (i *Issue) Complete() error {
	if i.Status != StatusInProgress {
		return &TransitionError{From: i.Status, To: StatusDone}
	}
	i.touch()
	i.Status = StatusDone
	return nil
}

// AddBlocker records blockerID as blocking this issue. It reports whether
// anything changed; adding a present blocker is a no-op.
func (i *Issue) AddBlocker(blockerID string) bool {
	if slices.Contains(i.BlockedBy, blockerID) {
		return false
	}
	i.BlockedBy = append(i.BlockedBy, blockerID)
	i.touch()
	i.updateBlockedStatus()
	return true
}

// RemoveBlocker removes blockerID. It reports whether anything changed.
func (i *Issue) RemoveBlocker(blockerID string) bool {
	idx := slices.Index(i.BlockedBy, blockerID)
	if idx < 0 {
		return false
	}
	i.BlockedBy = slices.Delete(i.BlockedBy, idx, idx+1)
	i.touch()
	i.updateBlockedStatus()
	return true
}

func (i *Issue) updateBlockedStatus() {
	switch {
	case len(i.BlockedBy) > 0 && i.Status != StatusDone:
		i.Status = StatusBlocked
	case len(i.BlockedBy) == 0 && i.Status == StatusBlocked:
		if i.IsClaimed() {
			i.Status = StatusInProgress
		} else {
			i.Status = StatusOpen
		}
	}
}

// Validate re-checks every invariant of a stored issue. Loaders use it to
// reject records that parse as JSON but are not a legal issue.
func (i *Issue) Validate() error {
	if err := ValidateID(i.ID); err != nil {
		return err
	}
	if err := ValidateTitle(i.Title); err != nil {
		return err
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("%w: %s has unknown status %q", ErrInvalidIssue, i.ID, i.Status)
	}
	if i.Status == StatusInProgress && !i.IsClaimed() {
		return fmt.Errorf("%w: %s is in_progress but unclaimed", ErrInvalidIssue, i.ID)
	}
	if i.IsClaimed() != (i.ClaimedAt != nil) {
		return fmt.Errorf("%w: %s claimed_by and claimed_at must be set together", ErrInvalidIssue, i.ID)
	}
	if len(i.BlockedBy) > 0 && i.Status != StatusDone && i.Status != StatusBlocked {
		return fmt.Errorf("%w: %s has blockers but status %s", ErrInvalidIssue, i.ID, i.Status)
	}
	if i.UpdatedAt.Before(i.CreatedAt) {
		return fmt.Errorf("%w: %s updated_at precedes created_at", ErrInvalidIssue, i.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (i *Issue) Clone() *Issue {
	c := *i
	c.BlockedBy = slices.Clone(i.BlockedBy)
	if c.BlockedBy == nil {
		c.BlockedBy = []string{}
	}
	if i.ClaimedAt != nil {
		t := *i.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}
