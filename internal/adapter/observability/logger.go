// Package observability provides the structured logging used across the
// synchronization engine. Core usecases depend on the Logger interface only;
// the concrete writer and format are wired by the composition root.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Logger provides structured logging with arbitrary fields.
type Logger interface {
	LogDebug(ctx context.Context, message string, fields map[string]interface{})
	LogInfo(ctx context.Context, message string, fields map[string]interface{})
	LogWarning(ctx context.Context, message string, fields map[string]interface{})
	LogError(ctx context.Context, message string, fields map[string]interface{})
}

// LogLevel defines the logging verbosity level.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

// ParseLevel maps a config string onto a LogLevel. Unknown values fall back
// to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarning
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogFormat defines the output format for logs.
type LogFormat int

const (
	LogFormatHuman LogFormat = iota
	LogFormatJSON
)

// ParseFormat maps a config string onto a LogFormat.
func ParseFormat(s string) LogFormat {
	if strings.EqualFold(s, "json") {
		return LogFormatJSON
	}
	return LogFormatHuman
}

// DefaultLogger writes structured logs to a writer in either human-readable
// or JSON format.
type DefaultLogger struct {
	level  LogLevel
	format LogFormat
	out    *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr with the given config.
func NewDefaultLogger(level LogLevel, format LogFormat) *DefaultLogger {
	return NewDefaultLoggerTo(os.Stderr, level, format)
}

// NewDefaultLoggerTo creates a logger writing to the given writer.
func NewDefaultLoggerTo(w io.Writer, level LogLevel, format LogFormat) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		format: format,
		out:    log.New(w, "", 0),
	}
}

// LogDebug logs a debug message with structured fields.
func (l *DefaultLogger) LogDebug(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(LogLevelDebug, "debug", message, fields)
}

// LogInfo logs an informational message with structured fields.
func (l *DefaultLogger) LogInfo(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(LogLevelInfo, "info", message, fields)
}

// LogWarning logs a warning message with structured fields.
func (l *DefaultLogger) LogWarning(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(LogLevelWarning, "warning", message, fields)
}

// LogError logs an error message with structured fields.
func (l *DefaultLogger) LogError(ctx context.Context, message string, fields map[string]interface{}) {
	l.write(LogLevelError, "error", message, fields)
}

func (l *DefaultLogger) write(level LogLevel, label, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	if l.format == LogFormatJSON {
		entry := map[string]interface{}{
			"level":     label,
			"timestamp": time.Now().Format(time.RFC3339),
			"message":   message,
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			l.out.Printf(`{"level":"error","message":"marshal log entry: %v"}`, err)
			return
		}
		l.out.Print(string(data))
		return
	}

	l.out.Printf("[%s] %s%s", strings.ToUpper(label), message, formatFields(fields))
}

// formatFields renders fields deterministically for the human format.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, fields[k])
	}
	sb.WriteString(")")
	return sb.String()
}

// NopLogger discards all log output. Useful as a default and in tests.
type NopLogger struct{}

func (NopLogger) LogDebug(ctx context.Context, message string, fields map[string]interface{})   {}
func (NopLogger) LogInfo(ctx context.Context, message string, fields map[string]interface{})    {}
func (NopLogger) LogWarning(ctx context.Context, message string, fields map[string]interface{}) {}
func (NopLogger) LogError(ctx context.Context, message string, fields map[string]interface{})   {}
