// Package diag provides the package-level structured logger used by the
// compiler (the engine does not log through it): a single process-wide
// logger, swappable sink, key/value call sites instead of formatted strings.
package diag

import (
	"io"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// SetOutput redirects all diagnostic logging to w at the given level.
// Hosts embedding the engine call this once at startup; the core itself
// never reads a config file or environment variable to decide this.
func SetOutput(w io.Writer, level slog.Level) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Debug logs fine-grained compiler/engine state transitions.
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }

// Info logs boundary-level events (compile finished, engine started, snapshot taken).
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Warn logs recoverable anomalies.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }

// Error logs a terminal failure about to be returned to the host.
func Error(msg string, args ...any) { logger.Error(msg, args...) }
