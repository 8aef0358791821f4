package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rsc.io/script"
	"rsc.io/script/scripttest"
)

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "manna-home-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Setenv("HOME", home)
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "MANNA_") {
			os.Unsetenv(key)
		}
	}
	os.Setenv("NO_COLOR", "1")

	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

// mannaCmd runs the CLI in-process against the script's working directory.
// $MANNA_SESSION_ID from the script environment is passed as --session.
func mannaCmd() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "run manna in the script directory",
			Args:    "args...",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			full := append([]string{"--dir", s.Getwd()}, args...)
			if id, ok := s.LookupEnv("MANNA_SESSION_ID"); ok {
				full = append([]string{"--session", id}, full...)
			}
			var stdout, stderr bytes.Buffer
			code := run(s.Context(), full, &stdout, &stderr)
			return func(*script.State) (string, string, error) {
				if code != exitSuccess {
					return stdout.String(), stderr.String(), fmt.Errorf("exit status %d", code)
				}
				return stdout.String(), stderr.String(), nil
			}, nil
		},
	)
}

func TestScripts(t *testing.T) {
	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
	}
	engine.Cmds["manna"] = mannaCmd()

	files, err := filepath.Glob(filepath.Join("testdata", "*.txt"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txt"), func(t *testing.T) {
			s, err := script.NewState(t.Context(), t.TempDir(), []string{"HOME=" + os.Getenv("HOME")})
			require.NoError(t, err)

			f, err := os.Open(file)
			require.NoError(t, err)
			defer f.Close()

			scripttest.Run(t, engine, s, file, f)
		})
	}
}

// runIn invokes the CLI with --dir pointing at dir.
func runIn(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--dir", dir, "--session", "ses_test"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String()
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()

	code, out := runIn(t, dir, "list")
	assert.Equal(t, exitUserError, code, "list before init")
	assert.Contains(t, out, "success: false")

	code, _ = runIn(t, dir, "init")
	require.Equal(t, exitSuccess, code)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown command", []string{"frobnicate"}, exitUserError},
		{"unknown flag", []string{"list", "--nope"}, exitUserError},
		{"missing argument", []string{"claim"}, exitUserError},
		{"bad format", []string{"--format", "xml", "list"}, exitUserError},
		{"bad status filter", []string{"list", "--status", "sideways"}, exitUserError},
		{"bad since filter", []string{"list", "--since", "not-a-date"}, exitUserError},
		{"missing issue", []string{"show", "mn-000000"}, exitUserError},
		{"invalid title", []string{"create", ""}, exitUserError},
		{"invalid id", []string{"create", "--id", "bogus", "title"}, exitUserError},
		{"bad context json", []string{"session", "start", "--context", "{"}, exitUserError},
		{"version", []string{"version"}, exitSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := runIn(t, dir, tt.args...)
			assert.Equal(t, tt.want, code, "output:\n%s", out)
		})
	}
}

func TestRunCreateDuplicateID(t *testing.T) {
	dir := t.TempDir()
	code, _ := runIn(t, dir, "init")
	require.Equal(t, exitSuccess, code)

	code, out := runIn(t, dir, "create", "--id", "mn-abc123", "first")
	require.Equal(t, exitSuccess, code, out)
	assert.Contains(t, out, "id: mn-abc123")

	code, out = runIn(t, dir, "create", "--id", "mn-abc123", "second")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, out, "already exists")
}

func TestRunSystemError(t *testing.T) {
	dir := t.TempDir()
	code, _ := runIn(t, dir, "init")
	require.Equal(t, exitSuccess, code)

	// A directory where the issues file should be makes every read fail
	// with an I/O error rather than a user error.
	issues := filepath.Join(dir, ".manna", "issues.jsonl")
	require.NoError(t, os.Remove(issues))
	require.NoError(t, os.Mkdir(issues, 0o755))

	code, out := runIn(t, dir, "list")
	assert.Equal(t, exitSystemError, code, out)
	assert.Contains(t, out, "success: false")
}

func TestResolveSessionID(t *testing.T) {
	assert.Equal(t, "ses_explicit", resolveSessionID("ses_explicit"))
	assert.Regexp(t, `^ses_pid\d+_\d+$`, resolveSessionID(""))
}
