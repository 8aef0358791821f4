// Package jsonl implements storage.Store over two newline-delimited JSON files:
//
//	<base>/.manna/issues.jsonl    one issue per line
//	<base>/.manna/sessions.jsonl  one session event per line
//
// Appends take an exclusive flock on the file handle. Issue updates rewrite
// the whole file into a temp file and rename it over the original, so a
// reader sees either the old or the new snapshot. Rewrites are O(n) in the
// number of issues, which is fine up to a few thousand records.
package jsonl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/types"
)

const (
	// DirName is the store directory created under the base directory.
	DirName = ".manna"
	// IssuesFileName holds one JSON issue per line.
	IssuesFileName = "issues.jsonl"
	// SessionsFileName holds one JSON session event per line.
	SessionsFileName = "sessions.jsonl"
)

// Store is the JSONL-backed storage.Store. It holds no open handles between
// calls, so one value may be shared by many goroutines.
type Store struct {
	dir          string
	issuesPath   string
	sessionsPath string
	lockTimeout  time.Duration
	warnf        func(format string, args ...interface{})
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds every lock wait. Zero, the default, waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithWarnf sets the sink for load diagnostics. Defaults to debug.Warnf.
func WithWarnf(fn func(format string, args ...interface{})) Option {
	return func(s *Store) { s.warnf = fn }
}

// New returns a Store rooted at baseDir/.manna. Nothing is touched on disk
// until Init or another operation runs.
func New(baseDir string, opts ...Option) *Store {
	dir := filepath.Join(baseDir, DirName)
	s := &Store{
		dir:          dir,
		issuesPath:   filepath.Join(dir, IssuesFileName),
		sessionsPath: filepath.Join(dir, SessionsFileName),
		warnf:        debug.Warnf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the .manna directory.
func (s *Store) Dir() string { return s.dir }

// IssuesPath returns the path of issues.jsonl.
func (s *Store) IssuesPath() string { return s.issuesPath }

// SessionsPath returns the path of sessions.jsonl.
func (s *Store) SessionsPath() string { return s.sessionsPath }

// Init creates the directory and both files if they are missing. Existing
// files are never truncated.
func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", storage.ErrIO, s.dir, err)
	}
	for _, path := range []string{s.issuesPath, s.sessionsPath} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 - controlled path
		if err != nil {
			return fmt.Errorf("%w: create %s: %w", storage.ErrIO, path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: close %s: %w", storage.ErrIO, path, err)
		}
	}
	debug.Logf("initialized store at %s", s.dir)
	return nil
}

// IsInitialized reports whether the directory and both files exist.
func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	info, err := os.Stat(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %w", storage.ErrIO, s.dir, err)
	}
	if !info.IsDir() {
		return false, nil
	}
	for _, path := range []string{s.issuesPath, s.sessionsPath} {
		if err := s.requireFile(path); err != nil {
			if errors.Is(err, storage.ErrNotInitialized) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func discardf(string, ...interface{}) {}

// requireFile maps a missing file to storage.ErrNotInitialized.
func (s *Store) requireFile(path string) error {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s is missing (run 'manna init')", storage.ErrNotInitialized, path)
	}
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", storage.ErrIO, path, err)
	}
	return nil
}

// LoadIssues returns every valid issue in file order. Blank lines are
// ignored. Lines that fail to parse or validate are skipped with a warning.
// When an ID appears more than once the newest updated_at wins.
func (s *Store) LoadIssues(ctx context.Context) ([]*types.Issue, error) {
	return s.loadIssues(ctx, s.warnf)
}

func (s *Store) loadIssues(ctx context.Context, warnf func(string, ...interface{})) ([]*types.Issue, error) {
	issues, err := readRecords(ctx, s, s.issuesPath, (*types.Issue).Validate, warnf)
	if err != nil {
		return nil, err
	}
	issues, dups := dedupeIssues(issues)
	for _, d := range dups {
		warnf("%s: issue %s appears %d times, keeping the version updated at %s\n",
			s.issuesPath, d.ID, len(d.Dropped)+1, d.Kept.UpdatedAt.Format(time.RFC3339))
	}
	return issues, nil
}

// AppendIssue writes issue as a new line. It fails with ErrAlreadyExists if
// the ID is already stored.
func (s *Store) AppendIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	if err := s.requireFile(s.issuesPath); err != nil {
		return err
	}
	return s.withWriterLock(ctx, func() error {
		// Diagnostics were already reported by whoever loaded the set to
		// pick this ID; don't repeat them on every append.
		existing, err := s.loadIssues(ctx, discardf)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID == issue.ID {
				return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, issue.ID)
			}
		}
		return appendRecord(ctx, s, s.issuesPath, issue)
	})
}

// UpdateIssue replaces the stored issue with the same ID by rewriting the
// whole file. If the ID is absent the file is left untouched.
//
// The load, splice and rename run under the writer lock, so concurrent
// updates to different issues are all kept. Concurrent updates to the same
// issue are last-writer-wins.
func (s *Store) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	if err := s.requireFile(s.issuesPath); err != nil {
		return err
	}
	return s.withWriterLock(ctx, func() error {
		issues, err := s.loadIssues(ctx, discardf)
		if err != nil {
			return err
		}
		found := false
		for i, existing := range issues {
			if existing.ID == issue.ID {
				issues[i] = issue.Clone()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, issue.ID)
		}
		return rewriteRecords(ctx, s, s.issuesPath, issues)
	})
}

// LoadSessions returns every valid session event in file order.
func (s *Store) LoadSessions(ctx context.Context) ([]*types.SessionEvent, error) {
	return readRecords(ctx, s, s.sessionsPath, (*types.SessionEvent).Validate, s.warnf)
}

// AppendSession writes event as a new line. The session log is never rewritten.
func (s *Store) AppendSession(ctx context.Context, event *types.SessionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if err := s.requireFile(s.sessionsPath); err != nil {
		return err
	}
	return appendRecord(ctx, s, s.sessionsPath, event)
}
