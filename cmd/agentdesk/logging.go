package main

import (
	"io"
	"log/slog"
)

// levelTrace matches the level the acp package logs protocol lines at.
const levelTrace = slog.LevelDebug - 4

func logLevel(verbosity int) slog.Level {
	switch {
	case verbosity >= 2:
		return levelTrace
	case verbosity == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger(w io.Writer, verbosity int) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel(verbosity),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= levelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}
