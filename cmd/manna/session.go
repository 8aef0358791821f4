package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/steveyegge/manna/internal/types"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record session start and end events",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		sessionEventCmd(a, "start", "Log the start of the current session", func(ctx context.Context, session string, data json.RawMessage) (*types.SessionEvent, error) {
			return a.tracker.StartSession(ctx, session, data)
		}),
		sessionEventCmd(a, "end", "Log the end of the current session", func(ctx context.Context, session string, data json.RawMessage) (*types.SessionEvent, error) {
			return a.tracker.EndSession(ctx, session, data)
		}),
	)
	return cmd
}

func sessionEventCmd(a *app, use, short string, fn func(ctx context.Context, session string, data json.RawMessage) (*types.SessionEvent, error)) *cobra.Command {
	var contextJSON string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data json.RawMessage
			if contextJSON != "" {
				if !json.Valid([]byte(contextJSON)) {
					return usageErrorf("--context is not valid JSON: %q", contextJSON)
				}
				data = json.RawMessage(contextJSON)
			}
			ctx := cmd.Context()
			event, err := withLockRetry(ctx, a, func() (*types.SessionEvent, error) {
				return fn(ctx, a.session, data)
			})
			if err != nil {
				return err
			}
			return a.emit(eventResult{Event: event})
		},
	}
	cmd.Flags().StringVar(&contextJSON, "context", "", "JSON payload stored with the event (default {})")
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show the session event log",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			events, err := withLockRetry(ctx, a, func() ([]*types.SessionEvent, error) {
				return a.tracker.Sessions(ctx, session)
			})
			if err != nil {
				return err
			}
			if events == nil {
				events = []*types.SessionEvent{}
			}
			return a.emit(eventsResult{Events: events})
		},
	}
	// Named --filter rather than --session, which is the global session flag.
	cmd.Flags().StringVar(&session, "filter", "", "Only events for this session ID")
	return cmd
}
