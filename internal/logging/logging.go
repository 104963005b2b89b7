package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values report false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// New builds a logger writing to w in the given format ("text" or "json").
func New(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "", FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	return slog.New(handler), nil
}

// Init installs the default logger for the CLI. The level comes from
// LOG_LEVEL and falls back to fallback; logs go to stderr so they never mix
// with command output.
func Init(fallback slog.Level) {
	level := fallback
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if parsed, ok := ParseLevel(l); ok {
			level = parsed
		}
	}

	logger, err := New(os.Stderr, level, os.Getenv("LOG_FORMAT"))
	if err != nil {
		logger, _ = New(os.Stderr, level, FormatText)
	}
	slog.SetDefault(logger)
}
