package logging

import (
	"log/slog"
	"os"
)

// New returns a slog.Logger with formatting + level based on env:
// prod gets JSON logs at INFO, everything else text logs at DEBUG.
func New(env string) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}
