// Package logger provides the process-wide file logger.
//
// Messages use printf-style formatting and are prefixed with the component
// that emitted them, e.g. "deskapi: request failed status=404".
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogLevel is the minimum severity that is written.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	mu     sync.RWMutex
	out    io.WriteCloser
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// ParseLevel converts a configuration string to a LogLevel.
// Unknown values fall back to LevelWarning.
func ParseLevel(level string) LogLevel {
	switch level {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelWarning
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Init opens path for appending and routes all log output to it.
// An empty path discards output.
func Init(path string, level LogLevel) error {
	var w io.WriteCloser
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	setOutput(w, level)
	return nil
}

// InitWriter routes log output to w. Used by tests and the --verbose flag.
func InitWriter(w io.Writer, level LogLevel) {
	setOutput(nopCloser{w}, level)
}

func setOutput(w io.WriteCloser, level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	out = w
	var sink io.Writer = io.Discard
	if w != nil {
		sink = w
	}
	logger = slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level.slogLevel()}))
}

// Close flushes and closes the current log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		_ = out.Close()
		out = nil
	}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message.
func Debug(format string, args ...any) {
	get().Debug(fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func Info(format string, args ...any) {
	get().Info(fmt.Sprintf(format, args...))
}

// Warning logs a warning.
func Warning(format string, args ...any) {
	get().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message.
func Error(format string, args ...any) {
	get().Error(fmt.Sprintf(format, args...))
}

// ErrorWithErr logs an error message with the underlying error attached.
func ErrorWithErr(err error, format string, args ...any) {
	get().Error(fmt.Sprintf(format, args...), "error", err)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
