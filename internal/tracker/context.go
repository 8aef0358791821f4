package tracker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/manna/internal/types"
)

const (
	// DefaultMaxTokens is the context budget used when none is given.
	DefaultMaxTokens = 8000
	// charsPerToken is the rough size estimate used for truncation.
	charsPerToken = 4

	truncationMarker = "\n\n[truncated]"
	// truncationReserve is cut from the budget to make room for the marker.
	truncationReserve = 20
)

// Context renders open, in-progress and blocked issues as a markdown blob
// for an agent prompt. Done issues are omitted. Output longer than
// maxTokens*4 characters is cut and marked; maxTokens <= 0 disables the cut.
func (t *Tracker) Context(ctx context.Context, maxTokens int) (string, error) {
	issues, err := t.store.LoadIssues(ctx)
	if err != nil {
		return "", err
	}
	return truncate(RenderContext(issues), maxTokens), nil
}

// RenderContext formats issues without any size limit.
func RenderContext(issues []*types.Issue) string {
	byStatus := make(map[types.Status][]*types.Issue)
	for _, issue := range issues {
		byStatus[issue.Status] = append(byStatus[issue.Status], issue)
	}

	var b strings.Builder
	b.WriteString("# Manna Context\n\n")

	open := byStatus[types.StatusOpen]
	fmt.Fprintf(&b, "## Open Issues (%d)\n", len(open))
	for _, issue := range open {
		fmt.Fprintf(&b, "- %s: %s [open]\n", issue.ID, issue.Title)
	}
	b.WriteByte('\n')

	inProgress := byStatus[types.StatusInProgress]
	fmt.Fprintf(&b, "## In Progress Issues (%d)\n", len(inProgress))
	for _, issue := range inProgress {
		claimed := ""
		if issue.IsClaimed() {
			claimed = ", claimed by " + issue.ClaimedBy
		}
		fmt.Fprintf(&b, "- %s: %s [in_progress%s]\n", issue.ID, issue.Title, claimed)
	}
	b.WriteByte('\n')

	blocked := byStatus[types.StatusBlocked]
	fmt.Fprintf(&b, "## Blocked Issues (%d)\n", len(blocked))
	for _, issue := range blocked {
		fmt.Fprintf(&b, "- %s: %s [blocked by: %s]\n", issue.ID, issue.Title, strings.Join(issue.BlockedBy, ", "))
	}
	return b.String()
}

// truncate cuts s on a character boundary so that, with the marker appended,
// it fits in maxTokens*4 characters.
func truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	maxChars := maxTokens * charsPerToken
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	keep := max(maxChars-truncationReserve, 0)
	cut := 0
	for i := range s {
		if keep == 0 {
			cut = i
			break
		}
		keep--
	}
	return s[:cut] + truncationMarker
}
