// Package logger builds the daemon's process-wide slog.Logger: structured
// text logging to stdout and, when configured, a log file under the
// daemon's home directory, opened in append mode. The registry, event bus
// and diff watcher each take a *slog.Logger rather than reading a global,
// so it exists only for cmd/illucd's own bootstrapping.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a slog.Logger at level, writing to stdout and, if logFile is
// non-empty, appending to logFile as well.
func New(level, logFile string) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", logFile, err)
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	return slog.New(handler), nil
}
