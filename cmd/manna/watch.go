package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/manna/internal/debug"
	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/tracker"
)

const defaultWatchDebounce = 500 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the context blob again whenever the store changes",
		Long: `Watch .manna/ and re-render the context blob after each change.
Rapid writes are debounced, and a write that leaves the contents unchanged
does not produce new output. Stops on Ctrl+C.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ok, err := a.store.IsInitialized(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", storage.ErrNotInitialized, a.store.Dir())
			}

			renders := 0
			render := func() error {
				blob, err := a.tracker.Context(ctx, maxTokens(cmd))
				if err != nil {
					return err
				}
				if renders > 0 && a.format == formatYAML {
					_, _ = io.WriteString(a.stdout, "---\n")
				}
				renders++
				return a.emit(contextResult{Context: blob})
			}
			if !debug.IsQuiet() {
				fmt.Fprintln(a.stderr, "Watching for changes... (Press Ctrl+C to exit)")
			}
			return watchStore(ctx, a.store.Dir(), []string{a.store.IssuesPath(), a.store.SessionsPath()}, debounce, render)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", defaultWatchDebounce, "Quiet period before re-rendering")
	cmd.Flags().Int("max-tokens", tracker.DefaultMaxTokens, "Approximate token budget for each render")
	return cmd
}

// watchStore calls onChange once up front and then after every debounced
// change to files inside dir. Changes that leave the files byte-identical
// are ignored. It returns nil when ctx is cancelled.
func watchStore(ctx context.Context, dir string, files []string, debounce time.Duration, onChange func() error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating watcher: %w", storage.ErrIO, err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("%w: watching %s: %w", storage.ErrIO, dir, err)
	}

	watched := make(map[string]bool, len(files))
	for _, f := range files {
		watched[filepath.Base(f)] = true
	}

	var last uint64
	fire := func(force bool) error {
		sum, err := digestFiles(files)
		if err != nil {
			return err
		}
		if !force && sum == last {
			debug.Logf("store unchanged (%016x), skipping render", sum)
			return nil
		}
		last = sum
		return onChange()
	}
	if err := fire(true); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Updates land via rename, appends via write.
			if !watched[filepath.Base(event.Name)] || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
			pending = timer.C
		case <-pending:
			pending = nil
			if err := fire(false); err != nil {
				debug.Warnf("refreshing: %v", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			debug.Warnf("watcher error: %v", err)
		}
	}
}

// digestFiles hashes the concatenated contents of files.
func digestFiles(files []string) (uint64, error) {
	h := xxhash.New()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", storage.ErrIO, err)
		}
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64(), nil
}
