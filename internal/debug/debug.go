// Package debug prints diagnostics to stderr. Logf output appears only when
// MANNA_DEBUG is set or verbose mode is on; Warnf is silenced by quiet mode.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	enabled     = os.Getenv("MANNA_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
	out         io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress warnings)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetOutput redirects diagnostics and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	logMutex.Lock()
	defer logMutex.Unlock()
	prev := out
	out = w
	return prev
}

func write(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	logMutex.Lock()
	defer logMutex.Unlock()
	_, _ = io.WriteString(out, msg)
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		write(format, args...)
	}
}

// Warnf prints "Warning: " plus the message unless quiet mode is enabled.
func Warnf(format string, args ...interface{}) {
	if !quietMode {
		write("Warning: "+format, args...)
	}
}
