package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/steveyegge/manna/internal/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize .manna/ in the target directory",
		Long: `Create .manna/ with empty issues.jsonl and sessions.jsonl.
Running init again never truncates existing data.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, err := withLockRetry(ctx, a, func() (struct{}, error) {
				return struct{}{}, a.tracker.Init(ctx)
			})
			if err != nil {
				return err
			}
			return a.emit(initResult{Initialized: true, Path: a.store.Dir()})
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "create <title> [description]",
		Short: "Create a new open issue",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			title := args[0]
			var description string
			if len(args) > 1 {
				description = args[1]
			}
			issue, err := withLockRetry(ctx, a, func() (*types.Issue, error) {
				if id != "" {
					return a.tracker.CreateWithID(ctx, id, title, description)
				}
				return a.tracker.Create(ctx, title, description)
			})
			if err != nil {
				return err
			}
			return a.emit(issueResult{Issue: issue})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Use this issue ID instead of generating one (mn-<hex>)")
	return cmd
}

// issueAction builds the single-ID commands that apply one transition.
func issueAction(a *app, use, short string, fn func(ctx context.Context, id, session string) (*types.Issue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := withLockRetry(ctx, a, func() (*types.Issue, error) {
				return fn(ctx, args[0], a.session)
			})
			if err != nil {
				return err
			}
			return a.emit(issueResult{Issue: issue})
		},
	}
}

func newClaimCmd(a *app) *cobra.Command {
	return issueAction(a, "claim", "Claim an open issue for the current session", func(ctx context.Context, id, session string) (*types.Issue, error) {
		return a.tracker.Claim(ctx, id, session)
	})
}

func newDoneCmd(a *app) *cobra.Command {
	return issueAction(a, "done", "Mark an in-progress issue as done", func(ctx context.Context, id, session string) (*types.Issue, error) {
		return a.tracker.Complete(ctx, id, session)
	})
}

func newAbandonCmd(a *app) *cobra.Command {
	cmd := issueAction(a, "abandon", "Release a claimed issue back to open", func(ctx context.Context, id, session string) (*types.Issue, error) {
		return a.tracker.Release(ctx, id, session)
	})
	cmd.Aliases = []string{"release"}
	return cmd
}

// blockerAction builds block and unblock.
func blockerAction(a *app, use, short string, fn func(ctx context.Context, id, blockerID string) (*types.Issue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id> <blocker-id>",
		Short: short,
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := withLockRetry(ctx, a, func() (*types.Issue, error) {
				return fn(ctx, args[0], args[1])
			})
			if err != nil {
				return err
			}
			return a.emit(issueResult{Issue: issue})
		},
	}
}

func newBlockCmd(a *app) *cobra.Command {
	return blockerAction(a, "block", "Record that <blocker-id> blocks <id>", func(ctx context.Context, id, blockerID string) (*types.Issue, error) {
		return a.tracker.Block(ctx, id, blockerID)
	})
}

func newUnblockCmd(a *app) *cobra.Command {
	return blockerAction(a, "unblock", "Remove <blocker-id> from the blockers of <id>", func(ctx context.Context, id, blockerID string) (*types.Issue, error) {
		return a.tracker.Unblock(ctx, id, blockerID)
	})
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show issue details",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issue, err := withLockRetry(ctx, a, func() (*types.Issue, error) {
				return a.tracker.Get(ctx, args[0])
			})
			if err != nil {
				return err
			}
			return a.emit(issueResult{Issue: issue})
		},
	}
}
