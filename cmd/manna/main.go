// Command manna is an issue tracker for AI agents. Issues and session events
// live in append-only JSONL files under .manna/ so several agents can share
// one working tree.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/manna/internal/config"
	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/storage/jsonl"
	"github.com/steveyegge/manna/internal/telemetry"
	"github.com/steveyegge/manna/internal/tracker"
	"github.com/steveyegge/manna/internal/ui"
)

// app holds the per-invocation state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	format      string
	dir         string
	session     string
	lockTimeout time.Duration
	lockRetry   time.Duration

	store   *jsonl.Store
	tracker *tracker.Tracker
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one manna invocation and returns its exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, format: formatYAML}
	prevOut := debug.SetOutput(stderr)
	defer debug.SetOutput(prevOut)

	if err := config.Initialize(); err != nil {
		debug.Warnf("%v", err)
	}

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()
	if err == nil {
		return exitSuccess
	}
	a.fail(err)
	return exitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "manna",
		Short: "manna - issue tracking for AI agents",
		Long: `Issues and session events stored as JSONL under .manna/.
Output is YAML by default so agents can parse it; exit codes are
0 (success), 1 (user error) and 2 (system error).`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := root.PersistentFlags()
	flags.String("dir", ".", "Directory containing .manna/")
	flags.String("session", "", "Session ID (default: $MANNA_SESSION_ID or ses_pid<pid>_<unix>)")
	flags.String("format", formatYAML, "Output format: yaml, json or text")
	flags.Duration("lock-timeout", 0, "How long to wait for a file lock (0 waits forever)")
	flags.Duration("lock-retry", 0, "Keep retrying lock failures for this long (0 disables)")
	flags.BoolP("verbose", "v", false, "Enable verbose/debug output")
	flags.BoolP("quiet", "q", false, "Suppress warnings")

	for key, name := range map[string]string{
		config.KeyBaseDir:     "dir",
		config.KeySessionID:   "session",
		config.KeyFormat:      "format",
		config.KeyLockTimeout: "lock-timeout",
		config.KeyLockRetry:   "lock-retry",
		config.KeyVerbose:     "verbose",
		config.KeyQuiet:       "quiet",
	} {
		if err := config.BindFlag(key, flags.Lookup(name)); err != nil {
			debug.Warnf("binding --%s: %v", name, err)
		}
	}

	root.AddCommand(
		newInitCmd(a),
		newStatusCmd(a),
		newCreateCmd(a),
		newClaimCmd(a),
		newDoneCmd(a),
		newAbandonCmd(a),
		newBlockCmd(a),
		newUnblockCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newContextCmd(a),
		newSessionCmd(a),
		newSessionsCmd(a),
		newWatchCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup resolves configuration and opens the store. It runs before every
// subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	debug.SetVerbose(config.GetBool(config.KeyVerbose))
	debug.SetQuiet(config.GetBool(config.KeyQuiet))

	a.format = config.GetString(config.KeyFormat)
	switch a.format {
	case formatYAML, formatJSON:
	case formatText:
		if !ui.ShouldUseColor() {
			ui.DisableColor()
		}
	default:
		f := a.format
		a.format = formatYAML
		return usageErrorf("invalid --format %q (want yaml, json or text)", f)
	}

	a.dir = config.GetString(config.KeyBaseDir)
	a.session = resolveSessionID(config.GetString(config.KeySessionID))
	a.lockTimeout = config.GetDuration(config.KeyLockTimeout)
	a.lockRetry = config.GetDuration(config.KeyLockRetry)
	if a.lockTimeout < 0 || a.lockRetry < 0 {
		return usageErrorf("lock durations must not be negative")
	}
	if path := config.ConfigFileUsed(); path != "" {
		debug.Logf("using config %s", path)
	}

	ctx := cmd.Context()
	if err := telemetry.Init(ctx, a.stderr, "manna", Version); err != nil {
		debug.Warnf("telemetry disabled: %v", err)
	}

	a.store = jsonl.New(a.dir, jsonl.WithLockTimeout(a.lockTimeout))
	var store storage.Store = a.store
	a.tracker = tracker.New(telemetry.WrapStore(store))
	debug.Logf("store %s, session %s", a.store.Dir(), a.session)
	return nil
}

// resolveSessionID prefers an explicit ID (flag, MANNA_SESSION_ID or config)
// and otherwise derives one from the process.
func resolveSessionID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return fmt.Sprintf("ses_pid%d_%d", os.Getpid(), time.Now().Unix())
}
