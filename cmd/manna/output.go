package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/tracker"
	"github.com/steveyegge/manna/internal/types"
	"github.com/steveyegge/manna/internal/ui"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
	formatText = "text"
)

type initResult struct {
	Initialized bool   `json:"initialized" yaml:"initialized"`
	Path        string `json:"path" yaml:"path"`
}

type issueResult struct {
	Issue *types.Issue `json:"issue" yaml:"issue"`
}

type issueSummary struct {
	ID        string       `json:"id" yaml:"id"`
	Title     string       `json:"title" yaml:"title"`
	Status    types.Status `json:"status" yaml:"status"`
	ClaimedBy string       `json:"claimed_by,omitempty" yaml:"claimed_by,omitempty"`
}

type listResult struct {
	Issues []issueSummary `json:"issues" yaml:"issues"`
}

func summarize(issues []*types.Issue) listResult {
	res := listResult{Issues: make([]issueSummary, 0, len(issues))}
	for _, issue := range issues {
		res.Issues = append(res.Issues, issueSummary{
			ID:        issue.ID,
			Title:     issue.Title,
			Status:    issue.Status,
			ClaimedBy: issue.ClaimedBy,
		})
	}
	return res
}

type contextResult struct {
	Context string `json:"context" yaml:"context"`
}

type eventResult struct {
	Event *types.SessionEvent `json:"event" yaml:"event"`
}

type eventsResult struct {
	Events []*types.SessionEvent `json:"events" yaml:"events"`
}

type versionResult struct {
	Version string `json:"version" yaml:"version"`
	Build   string `json:"build" yaml:"build"`
}

type errorResult struct {
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error" yaml:"error"`
}

// emit writes a successful result. In yaml and json the fields of data are
// flattened into a {success: true, ...} envelope.
func (a *app) emit(data interface{}) error {
	var out []byte
	var err error
	switch a.format {
	case formatJSON:
		out, err = successJSON(data)
	case formatText:
		var buf bytes.Buffer
		renderText(&buf, data)
		out = buf.Bytes()
	default:
		out, err = successYAML(data)
	}
	if err != nil {
		return fmt.Errorf("%w: encoding output: %w", storage.ErrSerialization, err)
	}
	_, err = a.stdout.Write(out)
	return err
}

// fail writes the error envelope to stdout so callers parsing the output
// always get a document back.
func (a *app) fail(err error) {
	res := errorResult{Success: false, Error: err.Error()}
	var out []byte
	switch a.format {
	case formatJSON:
		out, _ = json.MarshalIndent(res, "", "  ")
		out = append(out, '\n')
	case formatText:
		out = []byte(ui.RenderError(res.Error) + "\n")
	default:
		out, _ = yaml.Marshal(res)
	}
	_, _ = a.stdout.Write(out)
}

func successYAML(data interface{}) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(data); err != nil {
		return nil, err
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("result %T is not a mapping", data)
	}
	node.Content = append([]*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "success"},
		{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"},
	}, node.Content...)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func successJSON(data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("result %T is not an object", data)
	}
	var merged bytes.Buffer
	merged.WriteString(`{"success":true`)
	if len(body) > 2 {
		merged.WriteByte(',')
	}
	merged.Write(body[1:])

	var out bytes.Buffer
	if err := json.Indent(&out, merged.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func renderText(w io.Writer, data interface{}) {
	switch d := data.(type) {
	case initResult:
		fmt.Fprintln(w, ui.RenderSuccess("initialized "+d.Path))
	case issueResult:
		renderIssue(w, d.Issue)
	case listResult:
		if len(d.Issues) == 0 {
			fmt.Fprintln(w, ui.RenderMuted("no issues"))
			return
		}
		for _, s := range d.Issues {
			line := fmt.Sprintf("%s  %s  %s", ui.RenderAccent(s.ID), ui.RenderStatus(s.Status), s.Title)
			if s.ClaimedBy != "" {
				line += "  " + ui.RenderMuted("@"+s.ClaimedBy)
			}
			fmt.Fprintln(w, line)
		}
	case tracker.SessionStatus:
		fmt.Fprintf(w, "%s %s\n", ui.RenderCategory("session"), d.SessionID)
		if len(d.ClaimedIssues) == 0 {
			fmt.Fprintln(w, ui.RenderMuted("no claimed issues"))
		}
		for _, id := range d.ClaimedIssues {
			fmt.Fprintf(w, "  %s\n", ui.RenderAccent(id))
		}
		if d.LastEvent != nil {
			fmt.Fprintf(w, "last event: %s\n", eventLine(d.LastEvent))
		}
	case contextResult:
		fmt.Fprint(w, d.Context)
		if !strings.HasSuffix(d.Context, "\n") {
			fmt.Fprintln(w)
		}
	case eventResult:
		fmt.Fprintln(w, ui.RenderSuccess(eventLine(d.Event)))
	case eventsResult:
		if len(d.Events) == 0 {
			fmt.Fprintln(w, ui.RenderMuted("no session events"))
		}
		for _, e := range d.Events {
			fmt.Fprintln(w, eventLine(e))
		}
	case versionResult:
		fmt.Fprintf(w, "manna version %s (%s)\n", d.Version, d.Build)
	default:
		fmt.Fprintf(w, "%+v\n", d)
	}
}

func renderIssue(w io.Writer, issue *types.Issue) {
	fmt.Fprintf(w, "%s  %s\n", ui.RenderAccent(issue.ID), issue.Title)
	fmt.Fprintf(w, "status:  %s\n", ui.RenderStatus(issue.Status))
	if issue.ClaimedBy != "" {
		fmt.Fprintf(w, "claimed: %s\n", issue.ClaimedBy)
	}
	if len(issue.BlockedBy) > 0 {
		fmt.Fprintf(w, "blocked by: %s\n", strings.Join(issue.BlockedBy, ", "))
	}
	fmt.Fprintf(w, "updated: %s\n", ui.RenderMuted(issue.UpdatedAt.Format("2006-01-02 15:04:05Z07:00")))
	if issue.Description != "" {
		fmt.Fprintf(w, "\n%s\n", issue.Description)
	}
}

func eventLine(e *types.SessionEvent) string {
	line := fmt.Sprintf("%s %s %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.SessionID, e.Event)
	if e.IssueID != "" {
		line += " " + e.IssueID
	}
	return line
}
