// Package tracker runs the issue workflows on top of a storage.Store: load
// the issue set, apply a state-machine transition, write the result back and
// record the matching session event.
//
// Session IDs are always passed in by the caller; nothing here reads the
// process environment.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/idgen"
	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/types"
)

// createAttempts bounds how often Create redraws an ID that lost a race.
const createAttempts = 3

// Tracker is safe for concurrent use if its store is.
type Tracker struct {
	store storage.Store
	ids   *idgen.Generator
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator replaces the crypto-backed ID generator, e.g. with
// idgen.NewSeeded for reproducible IDs.
func WithIDGenerator(g *idgen.Generator) Option {
	return func(t *Tracker) { t.ids = g }
}

// New returns a Tracker over store.
func New(store storage.Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, ids: idgen.New()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the underlying store.
func (t *Tracker) Store() storage.Store { return t.store }

// Init initializes the store. It is safe to call repeatedly.
func (t *Tracker) Init(ctx context.Context) error {
	return t.store.Init(ctx)
}

// Create adds a new open issue with a generated ID.
func (t *Tracker) Create(ctx context.Context, title, description string) (*types.Issue, error) {
	if err := types.ValidateTitle(title); err != nil {
		return nil, err
	}
	issues, err := t.store.LoadIssues(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(issues))
	for _, issue := range issues {
		existing[issue.ID] = struct{}{}
	}

	for attempt := 1; ; attempt++ {
		id := t.ids.GenerateUnique(existing)
		issue, err := t.create(ctx, id, title, description)
		if err == nil || !errors.Is(err, storage.ErrAlreadyExists) || attempt == createAttempts {
			return issue, err
		}
		debug.Logf("id %s was taken concurrently, drawing another", id)
		existing[id] = struct{}{}
	}
}

// CreateWithID adds a new open issue with a caller-chosen ID.
func (t *Tracker) CreateWithID(ctx context.Context, id, title, description string) (*types.Issue, error) {
	return t.create(ctx, id, title, description)
}

func (t *Tracker) create(ctx context.Context, id, title, description string) (*types.Issue, error) {
	issue, err := types.NewIssue(id, title, description)
	if err != nil {
		return nil, err
	}
	if err := t.store.AppendIssue(ctx, issue); err != nil {
		return nil, err
	}
	debug.Logf("created %s", issue.ID)
	return issue, nil
}

// Get returns one issue by ID.
func (t *Tracker) Get(ctx context.Context, id string) (*types.Issue, error) {
	issues, err := t.store.LoadIssues(ctx)
	if err != nil {
		return nil, err
	}
	return find(issues, id)
}

func find(issues []*types.Issue, id string) (*types.Issue, error) {
	for _, issue := range issues {
		if issue.ID == id {
			return issue, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status       types.Status
	ClaimedBy    string
	UpdatedSince time.Time
}

func (f Filter) matches(issue *types.Issue) bool {
	if f.Status != "" && issue.Status != f.Status {
		return false
	}
	if f.ClaimedBy != "" && issue.ClaimedBy != f.ClaimedBy {
		return false
	}
	if !f.UpdatedSince.IsZero() && issue.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	return true
}

// List returns issues matching filter in file order.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]*types.Issue, error) {
	issues, err := t.store.LoadIssues(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(issues, func(issue *types.Issue) bool {
		return !filter.matches(issue)
	}), nil
}

// mutate loads issue id, applies fn and writes it back. When fn reports no
// change the store is not touched.
func (t *Tracker) mutate(ctx context.Context, id string, fn func(*types.Issue) (bool, error)) (*types.Issue, error) {
	issue, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(issue)
	if err != nil {
		return nil, err
	}
	if !changed {
		return issue, nil
	}
	if err := t.store.UpdateIssue(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// record appends a session event. The issue write it follows has already
// succeeded and is not undone, so a failure here is only a warning.
func (t *Tracker) record(ctx context.Context, event types.SessionEvent) {
	if err := t.store.AppendSession(ctx, &event); err != nil {
		debug.Warnf("recording %s event for %s: %v", event.Event, event.IssueID, err)
	}
}

// Claim assigns issue id to session and moves it to in_progress.
func (t *Tracker) Claim(ctx context.Context, id, session string) (*types.Issue, error) {
	issue, err := t.mutate(ctx, id, func(issue *types.Issue) (bool, error) {
		return true, issue.Claim(session)
	})
	if err != nil {
		return nil, err
	}
	t.record(ctx, types.NewClaimEvent(session, id))
	return issue, nil
}

// Release returns a claimed issue to open. session is recorded in the log
// and does not have to match the claimant.
func (t *Tracker) Release(ctx context.Context, id, session string) (*types.Issue, error) {
	issue, err := t.mutate(ctx, id, func(issue *types.Issue) (bool, error) {
		return true, issue.Release()
	})
	if err != nil {
		return nil, err
	}
	t.record(ctx, types.NewReleaseEvent(session, id))
	return issue, nil
}

// Complete marks an in-progress issue done.
func (t *Tracker) Complete(ctx context.Context, id, session string) (*types.Issue, error) {
	issue, err := t.mutate(ctx, id, func(issue *types.Issue) (bool, error) {
		return true, issue.Complete()
	})
	if err != nil {
		return nil, err
	}
	t.record(ctx, types.NewDoneEvent(session, id))
	return issue, nil
}

// Block records that blockerID blocks id. The blocker must exist and must
// not be the issue itself.
func (t *Tracker) Block(ctx context.Context, id, blockerID string) (*types.Issue, error) {
	if id == blockerID {
		return nil, fmt.Errorf("%w: %s cannot block itself", types.ErrInvalidIssue, id)
	}
	issues, err := t.store.LoadIssues(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := find(issues, blockerID); err != nil {
		return nil, fmt.Errorf("blocker: %w", err)
	}
	issue, err := find(issues, id)
	if err != nil {
		return nil, err
	}
	if !issue.AddBlocker(blockerID) {
		return issue, nil
	}
	if err := t.store.UpdateIssue(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// Unblock removes blockerID from id. Removing an absent blocker is a no-op.
func (t *Tracker) Unblock(ctx context.Context, id, blockerID string) (*types.Issue, error) {
	return t.mutate(ctx, id, func(issue *types.Issue) (bool, error) {
		return issue.RemoveBlocker(blockerID), nil
	})
}

// StartSession logs a start event carrying ctxData (defaults to {}).
func (t *Tracker) StartSession(ctx context.Context, session string, ctxData json.RawMessage) (*types.SessionEvent, error) {
	event := types.NewStartEvent(session, ctxData)
	if err := t.store.AppendSession(ctx, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// EndSession logs an end event carrying ctxData (defaults to {}).
func (t *Tracker) EndSession(ctx context.Context, session string, ctxData json.RawMessage) (*types.SessionEvent, error) {
	event := types.NewEndEvent(session, ctxData)
	if err := t.store.AppendSession(ctx, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Sessions returns the session log, restricted to one session when session
// is non-empty.
func (t *Tracker) Sessions(ctx context.Context, session string) ([]*types.SessionEvent, error) {
	events, err := t.store.LoadSessions(ctx)
	if err != nil {
		return nil, err
	}
	if session == "" {
		return events, nil
	}
	return slices.DeleteFunc(events, func(e *types.SessionEvent) bool {
		return e.SessionID != session
	}), nil
}

// Snapshot is a point-in-time copy of both logs.
type Snapshot struct {
	Issues   []*types.Issue
	Sessions []*types.SessionEvent
}

// Snapshot loads issues and sessions concurrently.
func (t *Tracker) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Issues, err = t.store.LoadIssues(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Sessions, err = t.store.LoadSessions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SessionStatus summarizes what one session currently holds.
type SessionStatus struct {
	SessionID     string              `json:"session_id" yaml:"session_id"`
	ClaimedIssues []string            `json:"claimed_issues" yaml:"claimed_issues"`
	LastEvent     *types.SessionEvent `json:"last_event,omitempty" yaml:"last_event,omitempty"`
}

// Status lists every issue claimed by session, done ones included since a
// completed issue keeps its claim, plus the session's most recent event.
func (t *Tracker) Status(ctx context.Context, session string) (*SessionStatus, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	st := &SessionStatus{SessionID: session, ClaimedIssues: []string{}}
	for _, issue := range snap.Issues {
		if issue.ClaimedBy == session {
			st.ClaimedIssues = append(st.ClaimedIssues, issue.ID)
		}
	}
	for _, e := range slices.Backward(snap.Sessions) {
		if e.SessionID == session {
			st.LastEvent = e
			break
		}
	}
	return st, nil
}
