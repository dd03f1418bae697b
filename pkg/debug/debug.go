// Package debug gates verbose logging by subsystem.
//
// The set of subsystems is taken from CODEEXEC_DEBUG (comma separated, "all"
// enables everything) or from the logging.debug config key. Verbosity of the
// process-wide slog logger comes from CODEEXEC_LOG_LEVEL or logging.level.
//
//	debug.Log("runner", "spawn", "language", lang, "dir", dir)
package debug

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

const (
	envSubsystems = "CODEEXEC_DEBUG"
	envLevel      = "CODEEXEC_LOG_LEVEL"
)

type subsystems map[string]struct{}

var active atomic.Pointer[subsystems]

func init() {
	set(os.Getenv(envSubsystems))
}

// Init selects subsystems and installs the default logger on stderr.
// Environment variables win over the arguments. format is "text" or "json".
func Init(subsys, level, format string) {
	set(firstNonEmpty(os.Getenv(envSubsystems), subsys))
	lvl := ParseLevel(firstNonEmpty(os.Getenv(envLevel), level))
	slog.SetDefault(NewLogger(os.Stderr, lvl, format))
}

// NewLogger returns a JSON or text slog logger writing to w.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Enabled reports whether the subsystem was selected.
func Enabled(subsystem string) bool {
	s := *active.Load()
	if _, ok := s["all"]; ok {
		return true
	}
	_, ok := s[subsystem]
	return ok
}

// Log writes a debug record tagged with the subsystem, if it is enabled.
func Log(subsystem, msg string, args ...any) {
	if !Enabled(subsystem) {
		return
	}
	slog.Debug(msg, append([]any{slog.String("subsystem", subsystem)}, args...)...)
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN and ERROR to slog levels.
// Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Truncate shortens s to at most n bytes followed by "...".
func Truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func set(list string) {
	s := subsystems{}
	for _, name := range strings.Split(list, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			s[name] = struct{}{}
		}
	}
	active.Store(&s)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
