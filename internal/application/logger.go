package application

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger installs a JSON logger on stdout as the process default. Unknown
// levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", "fives-agent"))
	slog.SetDefault(logger)
	return logger
}
