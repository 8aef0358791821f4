package jsonl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/manna/internal/lockfile"
	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/types"
)

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) warnf(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, fmt.Sprintf(format, args...))
}

func (w *warnings) all() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.msgs, "")
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *warnings) {
	t.Helper()
	w := &warnings{}
	s := New(t.TempDir(), append([]Option{WithWarnf(w.warnf)}, opts...)...)
	require.NoError(t, s.Init(context.Background()))
	return s, w
}

func testIssue(t *testing.T, n int) *types.Issue {
	t.Helper()
	issue, err := types.NewIssue(fmt.Sprintf("mn-%06x", n), fmt.Sprintf("Issue %d", n), "")
	require.NoError(t, err)
	return issue
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	ok, err := s.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.AppendIssue(ctx, testIssue(t, 1)))
	require.NoError(t, s.Init(ctx))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	assert.Len(t, issues, 1, "second Init must not truncate")
}

func TestOperationsRequireInit(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	ok, err := s.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.LoadIssues(ctx)
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	_, err = s.LoadSessions(ctx)
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	assert.ErrorIs(t, s.AppendIssue(ctx, testIssue(t, 1)), storage.ErrNotInitialized)
	assert.ErrorIs(t, s.UpdateIssue(ctx, testIssue(t, 1)), storage.ErrNotInitialized)
	start := types.NewStartEvent("ses_a", nil)
	assert.ErrorIs(t, s.AppendSession(ctx, &start), storage.ErrNotInitialized)

	_, statErr := os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(statErr), "failed operations must not create the store")
}

func TestPartialStoreIsNotInitialized(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, os.Remove(s.SessionsPath()))

	ok, err := s.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendAndLoadIssues(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)

	want := []*types.Issue{testIssue(t, 1), testIssue(t, 2), testIssue(t, 3)}
	want[1].Description = "has a description"
	for _, issue := range want {
		require.NoError(t, s.AppendIssue(ctx, issue))
	}

	got, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, w.all())

	data, err := os.ReadFile(s.IssuesPath())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestAppendDuplicateID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.AppendIssue(ctx, testIssue(t, 1)))
	assert.ErrorIs(t, s.AppendIssue(ctx, testIssue(t, 1)), storage.ErrAlreadyExists)
}

func TestAppendRejectsInvalidIssue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	bad := testIssue(t, 1)
	bad.Title = ""
	assert.ErrorIs(t, s.AppendIssue(ctx, bad), types.ErrInvalidTitle)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func issueLine(t *testing.T, issue *types.Issue) string {
	t.Helper()
	line, err := encodeLine(issue)
	require.NoError(t, err)
	return strings.TrimSuffix(string(line), "\n")
}

func TestLoadSkipsMalformedLine(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)
	a, b := testIssue(t, 1), testIssue(t, 2)
	writeLines(t, s.IssuesPath(), issueLine(t, a), `{"id":"mn-000003","title":`, issueLine(t, b))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, a.ID, issues[0].ID)
	assert.Equal(t, b.ID, issues[1].ID)
	assert.Contains(t, w.all(), "line 2")
}

func TestLoadSkipsBlankAndInvalidLines(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)
	good := testIssue(t, 1)
	invalid := testIssue(t, 2)
	invalid.Status = types.StatusInProgress

	writeLines(t, s.IssuesPath(), "", issueLine(t, good), "   ", issueLine(t, invalid), "")

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, good.ID, issues[0].ID)
	assert.Contains(t, w.all(), "skipping invalid line 4")
}

func TestLoadHandlesLongLines(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	issue := testIssue(t, 1)
	issue.Description = strings.Repeat("x", 2<<20)
	require.NoError(t, s.AppendIssue(ctx, issue))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Len(t, issues[0].Description, 2<<20)
}

func TestLoadKeepsNewestDuplicate(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)
	older := testIssue(t, 1)
	other := testIssue(t, 2)
	newer := older.Clone()
	newer.Title = "Renamed"
	newer.UpdatedAt = older.UpdatedAt.Add(time.Minute)

	writeLines(t, s.IssuesPath(), issueLine(t, older), issueLine(t, other), issueLine(t, newer))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "Renamed", issues[0].Title)
	assert.Equal(t, other.ID, issues[1].ID)
	assert.Contains(t, w.all(), "appears 2 times")
}

func TestAppendRepairsTornTail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.IssuesPath(), []byte(issueLine(t, testIssue(t, 1))+"\n"+`{"id":"mn-0000`), 0o644))

	require.NoError(t, s.AppendIssue(ctx, testIssue(t, 2)))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "mn-000002", issues[1].ID)
}

func TestUpdateIssue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for n := 1; n <= 3; n++ {
		require.NoError(t, s.AppendIssue(ctx, testIssue(t, n)))
	}
	require.NoError(t, os.Chmod(s.IssuesPath(), 0o640))

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	target := issues[1]
	require.NoError(t, target.Claim("ses_a"))
	require.NoError(t, s.UpdateIssue(ctx, target))

	got, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, types.StatusInProgress, got[1].Status)
	assert.Equal(t, "ses_a", got[1].ClaimedBy)
	assert.Equal(t, issues[0], got[0])
	assert.Equal(t, issues[2], got[2])

	info, err := os.Stat(s.IssuesPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "rewrite must keep the file mode")

	leftovers, err := filepath.Glob(filepath.Join(s.Dir(), IssuesFileName+".tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestUpdateMissingIssueLeavesFileUnchanged(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.AppendIssue(ctx, testIssue(t, 1)))
	before, err := os.ReadFile(s.IssuesPath())
	require.NoError(t, err)

	err = s.UpdateIssue(ctx, testIssue(t, 99))
	require.ErrorIs(t, err, storage.ErrNotFound)

	after, err := os.ReadFile(s.IssuesPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRewriteRenameFailureIsReportedOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	// A non-empty directory cannot be replaced by a file.
	target := filepath.Join(filepath.Dir(s.IssuesPath()), "occupied")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o755))

	start := time.Now()
	err := rewriteRecords(ctx, s, target, []*types.Issue{testIssue(t, 1)})
	require.ErrorIs(t, err, storage.ErrIO)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	leftovers, err := filepath.Glob(target + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestUpdateDoesNotRepeatLoadWarnings(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)
	issue := testIssue(t, 1)
	require.NoError(t, s.AppendIssue(ctx, issue))
	f, err := os.OpenFile(s.IssuesPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.LoadIssues(ctx)
	require.NoError(t, err)
	loaded := w.all()
	assert.Contains(t, loaded, "malformed")

	issue.Title = "Renamed"
	require.NoError(t, s.UpdateIssue(ctx, issue))
	assert.Equal(t, loaded, w.all())
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)

	const workers, perWorker = 10, 10
	var g errgroup.Group
	for worker := 0; worker < workers; worker++ {
		g.Go(func() error {
			// Separate Store values behave like separate processes: no shared state.
			local := New(filepath.Dir(s.Dir()), WithWarnf(w.warnf))
			for i := 0; i < perWorker; i++ {
				issue, err := types.NewIssue(fmt.Sprintf("mn-%06x", worker*perWorker+i+1), "concurrent", "")
				if err != nil {
					return err
				}
				if err := local.AppendIssue(ctx, issue); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	assert.Len(t, issues, workers*perWorker)
	assert.Empty(t, w.all(), "no line may be torn or interleaved")

	seen := make(map[string]bool)
	for _, issue := range issues {
		assert.False(t, seen[issue.ID], "duplicate %s", issue.ID)
		seen[issue.ID] = true
	}
}

func TestConcurrentUpdatesToDifferentIssues(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	const n = 8
	for i := 1; i <= n; i++ {
		require.NoError(t, s.AppendIssue(ctx, testIssue(t, i)))
	}

	var g errgroup.Group
	for i := 1; i <= n; i++ {
		g.Go(func() error {
			issue, err := types.NewIssue(fmt.Sprintf("mn-%06x", i), fmt.Sprintf("Issue %d", i), "")
			if err != nil {
				return err
			}
			if err := issue.Claim(fmt.Sprintf("ses_%d", i)); err != nil {
				return err
			}
			return New(filepath.Dir(s.Dir())).UpdateIssue(ctx, issue)
		})
	}
	require.NoError(t, g.Wait())

	issues, err := s.LoadIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, n)
	for _, issue := range issues {
		assert.Equal(t, types.StatusInProgress, issue.Status, "update to %s was lost", issue.ID)
	}
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithLockTimeout(50*time.Millisecond))

	holder, err := os.OpenFile(s.IssuesPath(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, lockfile.FlockExclusiveBlocking(holder))
	defer func() { _ = lockfile.FlockUnlock(holder) }()

	_, err = s.LoadIssues(ctx)
	assert.ErrorIs(t, err, storage.ErrLockFailed)
	assert.ErrorIs(t, s.AppendIssue(ctx, testIssue(t, 1)), storage.ErrLockFailed)
}

func TestCancelledContextFailsLock(t *testing.T) {
	s, _ := newTestStore(t)

	holder, err := os.OpenFile(s.SessionsPath(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, lockfile.FlockExclusiveBlocking(holder))
	defer func() { _ = lockfile.FlockUnlock(holder) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	event := types.NewClaimEvent("ses_a", "mn-000001")
	assert.ErrorIs(t, s.AppendSession(ctx, &event), storage.ErrLockFailed)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s, w := newTestStore(t)

	events := []types.SessionEvent{
		types.NewStartEvent("ses_a", []byte(`{"agent":"reviewer"}`)),
		types.NewClaimEvent("ses_a", "mn-000001"),
		types.NewDoneEvent("ses_a", "mn-000001"),
		types.NewEndEvent("ses_a", nil),
	}
	for i := range events {
		require.NoError(t, s.AppendSession(ctx, &events[i]))
	}

	bad := types.SessionEvent{SessionID: "ses_a", Event: types.EventClaim}
	assert.ErrorIs(t, s.AppendSession(ctx, &bad), types.ErrInvalidEvent)

	got, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i], *got[i])
	}
	assert.Empty(t, w.all())
}

func TestDedupeIssues(t *testing.T) {
	a := testIssue(t, 1)
	b := testIssue(t, 2)
	aNewer := a.Clone()
	aNewer.UpdatedAt = a.UpdatedAt.Add(time.Second)
	aSame := a.Clone()

	got, dups := dedupeIssues([]*types.Issue{a, b, aNewer, aSame})
	require.Len(t, got, 2)
	assert.Same(t, aNewer, got[0])
	assert.Same(t, b, got[1])
	require.Len(t, dups, 1)
	assert.Equal(t, a.ID, dups[0].ID)
	assert.Len(t, dups[0].Dropped, 2)
}
