// Package logger provides the process-wide structured logger. Output is
// JSON on stdout by default; LOG_LEVEL and LOG_FORMAT override level and
// handler without a config file, so the logger works before configuration
// is loaded.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var instance *slog.Logger

// InitError represents logger initialization errors.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("logger: %s failed: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Init initializes the global logger from the environment: LOG_LEVEL
// (debug/info/warn/error, default info) and LOG_FORMAT (json/text,
// default json).
func Init() error {
	return InitWithConfig(slog.HandlerOptions{Level: levelFromEnv()})
}

// InitWithConfig initializes the logger with explicit handler options;
// LOG_FORMAT still selects the handler.
func InitWithConfig(opts slog.HandlerOptions) error {
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &opts)
	}
	instance = slog.New(handler)
	return nil
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger, initializing a default one on first use
// so early callers never receive nil.
func Get() *slog.Logger {
	if instance == nil {
		_ = Init()
	}
	return instance
}

// MustGet returns the global logger or panics if Init was never called.
func MustGet() *slog.Logger {
	if instance == nil {
		panic("logger: not initialized, call Init() first")
	}
	return instance
}

// Sync flushes buffered entries for handlers that support it.
func Sync() error {
	if instance == nil {
		return nil
	}
	if s, ok := instance.Handler().(interface{ Sync() error }); ok {
		return s.Sync()
	}
	if c, ok := instance.Handler().(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return instance != nil
}
