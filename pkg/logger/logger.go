// Package logger provides leveled, component-tagged logging for all
// ironclaw subsystems. Components are short stable tags ("bus", "cron",
// "delivery") so operator grep stays cheap.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level controls which messages are emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall back
// to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var std = struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
	json  bool
}{
	level: LevelInfo,
	out:   os.Stderr,
}

// SetLevel sets the global minimum level.
func SetLevel(l Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = l
}

// SetOutput redirects log output (tests use a buffer).
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
}

// SetJSON switches to one-object-per-line JSON output for log shippers.
func SetJSON(enabled bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.json = enabled
}

func emit(level Level, component, msg string, fields map[string]interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if level < std.level {
		return
	}

	now := time.Now().UTC()
	if std.json {
		rec := map[string]interface{}{
			"ts":        now.Format(time.RFC3339Nano),
			"level":     level.String(),
			"component": component,
			"msg":       msg,
		}
		for k, v := range fields {
			rec[k] = v
		}
		if data, err := json.Marshal(rec); err == nil {
			fmt.Fprintln(std.out, string(data))
		}
		return
	}

	var b strings.Builder
	b.WriteString(now.Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(std.out, b.String())
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { emit(LevelDebug, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { emit(LevelInfo, component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, component, msg, fields)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { emit(LevelWarn, component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, component, msg, fields)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { emit(LevelError, component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, component, msg, fields)
}
