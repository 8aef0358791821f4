// Package teststore provides JSONL-backed test helpers for tracker and CLI
// tests.
//
// Every store lives in its own t.TempDir(), so tests can run in parallel and
// leave nothing behind. Helpers fail the test on any error.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    issue := env.CreateIssue("fix the widget")
//	    env.Claim(issue, "ses_a")
//	    env.AssertStatus(issue, types.StatusInProgress)
//	}
package teststore

import (
	"context"
	"testing"

	"github.com/steveyegge/manna/internal/idgen"
	"github.com/steveyegge/manna/internal/storage/jsonl"
	"github.com/steveyegge/manna/internal/tracker"
	"github.com/steveyegge/manna/internal/types"
)

// New creates an initialized JSONL store in a fresh temp directory. Load
// warnings are routed to t.Logf.
func New(t testing.TB) *jsonl.Store {
	t.Helper()
	store := jsonl.New(t.TempDir(), jsonl.WithWarnf(func(format string, args ...interface{}) {
		t.Logf("store warning: "+format, args...)
	}))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("teststore: init: %v", err)
	}
	return store
}

// Env bundles a store with a tracker using reproducible IDs.
type Env struct {
	t       testing.TB
	Store   *jsonl.Store
	Tracker *tracker.Tracker
	Ctx     context.Context
}

// NewEnv creates a test environment over a fresh store.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	store := New(t)
	return &Env{
		t:       t,
		Store:   store,
		Tracker: tracker.New(store, tracker.WithIDGenerator(idgen.NewSeeded(1))),
		Ctx:     context.Background(),
	}
}

// CreateIssue creates an open issue with a generated ID.
func (e *Env) CreateIssue(title string) *types.Issue {
	e.t.Helper()
	issue, err := e.Tracker.Create(e.Ctx, title, "")
	if err != nil {
		e.t.Fatalf("Create(%q) failed: %v", title, err)
	}
	return issue
}

// CreateIssueWithID creates an open issue with an explicit ID.
func (e *Env) CreateIssueWithID(id, title string) *types.Issue {
	e.t.Helper()
	issue, err := e.Tracker.CreateWithID(e.Ctx, id, title, "")
	if err != nil {
		e.t.Fatalf("CreateWithID(%q, %q) failed: %v", id, title, err)
	}
	return issue
}

// Claim claims issue for session.
func (e *Env) Claim(issue *types.Issue, session string) *types.Issue {
	e.t.Helper()
	got, err := e.Tracker.Claim(e.Ctx, issue.ID, session)
	if err != nil {
		e.t.Fatalf("Claim(%s, %s) failed: %v", issue.ID, session, err)
	}
	return got
}

// Complete marks a claimed issue done.
func (e *Env) Complete(issue *types.Issue, session string) *types.Issue {
	e.t.Helper()
	got, err := e.Tracker.Complete(e.Ctx, issue.ID, session)
	if err != nil {
		e.t.Fatalf("Complete(%s) failed: %v", issue.ID, err)
	}
	return got
}

// Block records that blocker blocks issue.
func (e *Env) Block(issue, blocker *types.Issue) *types.Issue {
	e.t.Helper()
	got, err := e.Tracker.Block(e.Ctx, issue.ID, blocker.ID)
	if err != nil {
		e.t.Fatalf("Block(%s by %s) failed: %v", issue.ID, blocker.ID, err)
	}
	return got
}

// Reload reads issue back from disk.
func (e *Env) Reload(issue *types.Issue) *types.Issue {
	e.t.Helper()
	got, err := e.Tracker.Get(e.Ctx, issue.ID)
	if err != nil {
		e.t.Fatalf("Get(%s) failed: %v", issue.ID, err)
	}
	return got
}

// AssertStatus checks the persisted status of issue.
func (e *Env) AssertStatus(issue *types.Issue, want types.Status) {
	e.t.Helper()
	if got := e.Reload(issue).Status; got != want {
		e.t.Errorf("expected %s (%s) to be %s, got %s", issue.ID, issue.Title, want, got)
	}
}

// AssertClaimedBy checks the persisted claimant of issue ("" for none).
func (e *Env) AssertClaimedBy(issue *types.Issue, want string) {
	e.t.Helper()
	if got := e.Reload(issue).ClaimedBy; got != want {
		e.t.Errorf("expected %s to be claimed by %q, got %q", issue.ID, want, got)
	}
}
