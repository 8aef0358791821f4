package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/manna/internal/config"
	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/timeparsing"
	"github.com/steveyegge/manna/internal/tracker"
	"github.com/steveyegge/manna/internal/types"
)

func newListCmd(a *app) *cobra.Command {
	var (
		status string
		since  string
		mine   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Long: `List issues in file order.

--since accepts a compact duration (2d, 6h, 1w), a date (2025-01-15),
an RFC3339 timestamp or a phrase such as "yesterday".`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var filter tracker.Filter
			if status != "" {
				s, err := types.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}
			if since != "" {
				t, err := timeparsing.ParseSince(since, time.Now())
				if err != nil {
					return usageErrorf("--since: %v", err)
				}
				debug.Logf("listing issues updated since %s", t.Format(time.RFC3339))
				filter.UpdatedSince = t
			}
			if mine {
				filter.ClaimedBy = a.session
			}

			issues, err := withLockRetry(ctx, a, func() ([]*types.Issue, error) {
				return a.tracker.List(ctx, filter)
			})
			if err != nil {
				return err
			}
			return a.emit(summarize(issues))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (open, in_progress, blocked, done)")
	cmd.Flags().StringVar(&since, "since", "", "Only issues updated since this time")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only issues claimed by the current session")
	return cmd
}

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print a markdown summary of active issues for an agent prompt",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			blob, err := withLockRetry(ctx, a, func() (string, error) {
				return a.tracker.Context(ctx, maxTokens(cmd))
			})
			if err != nil {
				return err
			}
			return a.emit(contextResult{Context: blob})
		},
	}
	cmd.Flags().Int("max-tokens", tracker.DefaultMaxTokens, "Approximate token budget (4 characters per token, 0 for no limit)")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the issues claimed by the current session",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := withLockRetry(ctx, a, func() (*tracker.SessionStatus, error) {
				return a.tracker.Status(ctx, a.session)
			})
			if err != nil {
				return err
			}
			return a.emit(*st)
		},
	}
}

// maxTokens prefers an explicit --max-tokens over MANNA_MAX_TOKENS and the
// config file.
func maxTokens(cmd *cobra.Command) int {
	if f := cmd.Flags().Lookup("max-tokens"); f != nil && f.Changed {
		if n, err := cmd.Flags().GetInt("max-tokens"); err == nil {
			return n
		}
	}
	return config.GetInt(config.KeyMaxTokens)
}
