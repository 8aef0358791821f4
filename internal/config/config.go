// Package config loads manna settings from, in increasing priority: built-in
// defaults, a config.yaml file, MANNA_* environment variables and bound
// command-line flags.
//
// The config file is the first .manna/config.yaml found walking up from the
// working directory, falling back to $HOME/.config/manna/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys
const (
	KeyBaseDir     = "dir"
	KeyFormat      = "format"
	KeySessionID   = "session-id"
	KeyLockTimeout = "lock-timeout"
	KeyLockRetry   = "lock-retry"
	KeyMaxTokens   = "max-tokens"
	KeyVerbose     = "verbose"
	KeyQuiet       = "quiet"
)

const (
	envPrefix      = "MANNA"
	configDirName  = ".manna"
	configFileName = "config.yaml"
)

var v *viper.Viper

// Initialize (re)builds the configuration. Call it once at startup; tests
// call it again after changing the environment.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyBaseDir, ".")
	v.SetDefault(KeyFormat, "yaml")
	v.SetDefault(KeySessionID, "")
	v.SetDefault(KeyLockTimeout, time.Duration(0))
	v.SetDefault(KeyLockRetry, time.Duration(0))
	v.SetDefault(KeyMaxTokens, 8000)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyQuiet, false)

	path, err := findConfigFile()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns "" when no config file exists.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configDirName, configFileName)
		if exists(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "manna", configFileName)
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ensure() *viper.Viper {
	if v == nil {
		if err := Initialize(); err != nil {
			// Fall back to defaults and environment only.
			v = viper.New()
		}
	}
	return v
}

// BindFlag lets an explicitly set command-line flag override key.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.New("config: cannot bind nil flag for " + key)
	}
	return ensure().BindPFlag(key, flag)
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string { return ensure().ConfigFileUsed() }

func GetString(key string) string { return ensure().GetString(key) }
func GetBool(key string) bool { return ensure().GetBool(key) }
func GetInt(key string) int { return ensure().GetInt(key) }
func GetDuration(key string) time.Duration { return ensure().GetDuration(key) }
func Set(key string, value interface{}) { ensure().Set(key, value) }
func AllSettings() map[string]interface{} { return ensure().AllSettings() }
