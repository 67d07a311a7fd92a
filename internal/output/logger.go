/*
PURPOSE:
  Provides the structured logger for the trainer.
  Wraps slog for consistent output.

REQUIREMENTS:
  User-specified:
  - Per-epoch loss/score lines; warnings for non-finite validation values.

  Implementation-discovered:
  - Long runs are often scraped, so a JSON handler is selectable.

ARCHITECTURE INTEGRATION:
  - Used everywhere.
  - Configured by: internal/cli (--log-level, --log-format)

IMPLEMENTATION RULES:
  - Use `log/slog`.

USAGE:
  output.Logger.Info("message", "key", "value")
*/

package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *slog.Logger) {
	Logger = l
}

// Configure installs a logger writing to w with the given level
// (debug, info, warn, error) and format (text, json).
func Configure(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		SetLogger(slog.New(slog.NewTextHandler(w, opts)))
	case "json":
		SetLogger(slog.New(slog.NewJSONHandler(w, opts)))
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}
