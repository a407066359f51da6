package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	currentLevel = new(slog.LevelVar)
	globalLogger *slog.Logger
	mu           sync.RWMutex
)

func init() {
	currentLevel.Set(slog.LevelInfo)
	Setup(os.Stderr, "text")
}

// Setup installs a text or JSON handler writing to w as the global logger.
func Setup(w io.Writer, format string) {
	opts := &slog.HandlerOptions{
		Level: currentLevel,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	globalLogger = slog.New(handler)
	mu.Unlock()
	slog.SetDefault(globalLogger)
}

// SetLevel dynamically adjusts the global logging level
func SetLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		currentLevel.Set(slog.LevelDebug)
	case "info":
		currentLevel.Set(slog.LevelInfo)
	case "warn":
		currentLevel.Set(slog.LevelWarn)
	case "error":
		currentLevel.Set(slog.LevelError)
	default:
		currentLevel.Set(slog.LevelInfo)
	}
}

// Level returns the current global level.
func Level() slog.Level {
	return currentLevel.Level()
}

// WithSubsystem returns a bound logger with a component tag
func WithSubsystem(name string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger.With(slog.String("component", name))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
