// Package logging builds the slog.Logger used by every queuelab binary.
//
// Format "json" writes one JSON object per line for log collectors; "text"
// writes colourised, human-oriented lines through tint for terminals.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel maps "debug" | "info" | "warn" | "error" to a slog.Level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q: want debug|info|warn|error", s)
	}
}

// New returns a logger writing to w in the given format and level.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON, "":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case FormatText:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q: want json|text", format)
	}
}
