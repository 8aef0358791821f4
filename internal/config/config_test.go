package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyBaseDir, ".", func(k string) interface{} { return GetString(k) }},
		{KeyFormat, "yaml", func(k string) interface{} { return GetString(k) }},
		{KeySessionID, "", func(k string) interface{} { return GetString(k) }},
		{KeyLockTimeout, time.Duration(0), func(k string) interface{} { return GetDuration(k) }},
		{KeyLockRetry, time.Duration(0), func(k string) interface{} { return GetDuration(k) }},
		{KeyMaxTokens, 8000, func(k string) interface{} { return GetInt(k) }},
		{KeyVerbose, false, func(k string) interface{} { return GetBool(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", ConfigFileUsed())
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"MANNA_SESSION_ID", KeySessionID, "ses_env", "ses_env", func(k string) interface{} { return GetString(k) }},
		{"MANNA_FORMAT", KeyFormat, "json", "json", func(k string) interface{} { return GetString(k) }},
		{"MANNA_LOCK_TIMEOUT", KeyLockTimeout, "5s", 5 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"MANNA_MAX_TOKENS", KeyMaxTokens, "100", 100, func(k string) interface{} { return GetInt(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigFileDiscovery(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".manna"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := "session-id: ses_file\nlock-timeout: 2s\nmax-tokens: 123\n"
	if err := os.WriteFile(filepath.Join(root, ".manna", "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeySessionID); got != "ses_file" {
		t.Errorf("session-id = %q, want ses_file", got)
	}
	if got := GetDuration(KeyLockTimeout); got != 2*time.Second {
		t.Errorf("lock-timeout = %v, want 2s", got)
	}

	t.Setenv("MANNA_MAX_TOKENS", "42")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := GetInt(KeyMaxTokens); got != 42 {
		t.Errorf("env should override file: max-tokens = %d", got)
	}
}

func TestBindFlagOverrides(t *testing.T) {
	t.Setenv("MANNA_FORMAT", "json")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("format", "yaml", "")
	if err := BindFlag(KeyFormat, fs.Lookup("format")); err != nil {
		t.Fatal(err)
	}
	if got := GetString(KeyFormat); got != "json" {
		t.Errorf("unset flag must not shadow env: got %q", got)
	}
	if err := fs.Parse([]string{"--format", "text"}); err != nil {
		t.Fatal(err)
	}
	if got := GetString(KeyFormat); got != "text" {
		t.Errorf("format = %q, want text", got)
	}
	if err := BindFlag("missing", nil); err == nil {
		t.Error("BindFlag(nil) should fail")
	}
}
