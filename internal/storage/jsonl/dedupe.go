package jsonl

import (
	"github.com/steveyegge/manna/internal/types"
)

// duplicate records one ID that appeared on more than one line.
type duplicate struct {
	ID      string
	Kept    *types.Issue
	Dropped []*types.Issue
}

// dedupeIssues collapses repeated IDs to the version with the newest
// updated_at, ties going to the earlier line. The kept record takes the
// position of the first occurrence, so file order is otherwise preserved.
func dedupeIssues(issues []*types.Issue) ([]*types.Issue, []duplicate) {
	pos := make(map[string]int, len(issues))
	result := make([]*types.Issue, 0, len(issues))
	dropped := make(map[string][]*types.Issue)
	var order []string

	for _, issue := range issues {
		i, seen := pos[issue.ID]
		if !seen {
			pos[issue.ID] = len(result)
			result = append(result, issue)
			continue
		}
		if _, noted := dropped[issue.ID]; !noted {
			order = append(order, issue.ID)
		}
		if issue.UpdatedAt.After(result[i].UpdatedAt) {
			dropped[issue.ID] = append(dropped[issue.ID], result[i])
			result[i] = issue
		} else {
			dropped[issue.ID] = append(dropped[issue.ID], issue)
		}
	}

	dups := make([]duplicate, 0, len(order))
	for _, id := range order {
		dups = append(dups, duplicate{ID: id, Kept: result[pos[id]], Dropped: dropped[id]})
	}
	return result, dups
}
