// Package memory implements storage.Store in process memory. It mirrors the
// error behavior of the JSONL store and is meant for tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/types"
)

// Store keeps issues and events in insertion order.
type Store struct {
	mu          sync.RWMutex
	initialized bool
	issues      []*types.Issue
	index       map[string]int
	sessions    []*types.SessionEvent

	// FailAppendSession, when set, is returned by AppendSession.
	FailAppendSession error
}

var _ storage.Store = (*Store)(nil)

// New returns an uninitialized store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

func (m *Store) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

func (m *Store) IsInitialized(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized, nil
}

func (m *Store) checkInit() error {
	if !m.initialized {
		return storage.ErrNotInitialized
	}
	return nil
}

func (m *Store) LoadIssues(ctx context.Context) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkInit(); err != nil {
		return nil, err
	}
	out := make([]*types.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		out = append(out, issue.Clone())
	}
	return out, nil
}

func (m *Store) AppendIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInit(); err != nil {
		return err
	}
	if _, ok := m.index[issue.ID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, issue.ID)
	}
	m.index[issue.ID] = len(m.issues)
	m.issues = append(m.issues, issue.Clone())
	return nil
}

func (m *Store) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInit(); err != nil {
		return err
	}
	i, ok := m.index[issue.ID]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, issue.ID)
	}
	m.issues[i] = issue.Clone()
	return nil
}

func (m *Store) LoadSessions(ctx context.Context) ([]*types.SessionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkInit(); err != nil {
		return nil, err
	}
	out := make([]*types.SessionEvent, 0, len(m.sessions))
	for _, e := range m.sessions {
		c := *e
		c.Context = slices.Clone(e.Context)
		out = append(out, &c)
	}
	return out, nil
}

func (m *Store) AppendSession(ctx context.Context, event *types.SessionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInit(); err != nil {
		return err
	}
	if m.FailAppendSession != nil {
		return m.FailAppendSession
	}
	c := *event
	c.Context = slices.Clone(event.Context)
	m.sessions = append(m.sessions, &c)
	return nil
}
