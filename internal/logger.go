package internal

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a text slog logger at the level named by s.
// Unknown names fall back to INFO.
func NewLogger(s string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(s) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
