package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a session lifecycle action.
type EventType string

// Session event types
const (
	EventStart   EventType = "start"
	EventClaim   EventType = "claim"
	EventRelease EventType = "release"
	EventDone    EventType = "done"
	EventEnd     EventType = "end"
)

// IsValid checks if the event type is known
func (e EventType) IsValid() bool {
	switch e {
	case EventStart, EventClaim, EventRelease, EventDone, EventEnd:
		return true
	}
	return false
}

// needsIssue reports whether events of this type must reference an issue.
func (e EventType) needsIssue() bool {
	return e == EventClaim || e == EventRelease || e == EventDone
}

// SessionEvent is one line of sessions.jsonl. Events are never modified once written.
type SessionEvent struct {
	SessionID string          `json:"session_id"`
	Event     EventType       `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	IssueID   string          `json:"issue_id,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

var emptyContext = json.RawMessage(`{}`)

func newSessionEvent(sessionID string, event EventType) SessionEvent {
	return SessionEvent{SessionID: sessionID, Event: event, Timestamp: timeNow()}
}

func withContext(e SessionEvent, ctx json.RawMessage) SessionEvent {
	if len(bytes.TrimSpace(ctx)) == 0 {
		ctx = emptyContext
	}
	e.Context = normalizeContext(ctx)
	return e
}

// normalizeContext returns ctx in the form encoding/json writes a
// RawMessage: compacted with HTML characters escaped. Invalid JSON is
// returned unchanged so Validate can reject it.
func normalizeContext(ctx json.RawMessage) json.RawMessage {
	var compact bytes.Buffer
	if err := json.Compact(&compact, ctx); err != nil {
		return ctx
	}
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, compact.Bytes())
	return json.RawMessage(escaped.Bytes())
}

// NewStartEvent records a session starting. An empty context becomes {}.
func NewStartEvent(sessionID string, ctx json.RawMessage) SessionEvent {
	return withContext(newSessionEvent(sessionID, EventStart), ctx)
}

// NewEndEvent records a session ending. An empty context becomes {}.
func NewEndEvent(sessionID string, ctx json.RawMessage) SessionEvent {
	return withContext(newSessionEvent(sessionID, EventEnd), ctx)
}

// NewClaimEvent records sessionID claiming issueID.
func NewClaimEvent(sessionID, issueID string) SessionEvent {
	e := newSessionEvent(sessionID, EventClaim)
	e.IssueID = issueID
	return e
}

// NewReleaseEvent records sessionID abandoning issueID.
func NewReleaseEvent(sessionID, issueID string) SessionEvent {
	e := newSessionEvent(sessionID, EventRelease)
	e.IssueID = issueID
	return e
}

// NewDoneEvent records sessionID completing issueID.
func NewDoneEvent(sessionID, issueID string) SessionEvent {
	e := newSessionEvent(sessionID, EventDone)
	e.IssueID = issueID
	return e
}

// Validate checks field presence for the event's kind.
func (e *SessionEvent) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
	}
	if !e.Event.IsValid() {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, e.Event)
	}
	if e.Event.needsIssue() && e.IssueID == "" {
		return fmt.Errorf("%w: %s event requires issue_id", ErrInvalidEvent, e.Event)
	}
	if !e.Event.needsIssue() && len(e.Context) == 0 {
		return fmt.Errorf("%w: %s event requires context", ErrInvalidEvent, e.Event)
	}
	if len(e.Context) > 0 && !json.Valid(e.Context) {
		return fmt.Errorf("%w: context is not valid JSON", ErrInvalidEvent)
	}
	return nil
}

// MarshalYAML renders the context payload as structured YAML instead of bytes.
func (e SessionEvent) MarshalYAML() (interface{}, error) {
	view := struct {
		SessionID string      `yaml:"session_id"`
		Event     EventType   `yaml:"event"`
		Timestamp time.Time   `yaml:"timestamp"`
		IssueID   string      `yaml:"issue_id,omitempty"`
		Context   interface{} `yaml:"context,omitempty"`
	}{
		SessionID: e.SessionID,
		Event:     e.Event,
		Timestamp: e.Timestamp,
		IssueID:   e.IssueID,
	}
	if len(e.Context) > 0 {
		if err := json.Unmarshal(e.Context, &view.Context); err != nil {
			return nil, fmt.Errorf("%w: context: %w", ErrInvalidEvent, err)
		}
	}
	return view, nil
}
