// Package logging sets up the process-wide structured logger.
//
// Components ask for a tagged logger once at construction time:
//
//	log := logging.Component("driver")
//	log.Info("run completed", "rows", 3)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger

	// level is shared by every handler built here, so loggers handed out
	// before a reload follow the new level.
	level slog.LevelVar
)

// Init replaces the global logger. JSON output is meant for unattended runs.
func Init(lvl slog.Level, jsonFormat bool) {
	InitWithWriter(os.Stderr, lvl, jsonFormat)
}

// InitWithWriter is Init with an explicit destination. Component loggers
// created earlier keep their destination and format but pick up the level.
func InitWithWriter(w io.Writer, lvl slog.Level, jsonFormat bool) {
	level.Set(lvl)
	opts := &slog.HandlerOptions{Level: &level}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	set(slog.New(handler))
}

// SetLevel changes the level of every logger from this package.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// Level reports the current level.
func Level() slog.Level {
	return level.Level()
}

// Discard silences all logging. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns a logger tagged with component=name.
func Component(name string) *slog.Logger {
	return get().With("component", name)
}

// ParseLevel accepts debug, info, warn/warning and error (case-insensitive).
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func set(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

func get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
