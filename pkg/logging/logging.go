package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns a colorized slog logger writing to stderr.
func NewLogger(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,

		TimeFormat: time.RFC3339,

		// Add source file:line
		AddSource: true,
	})

	return slog.New(handler)
}
