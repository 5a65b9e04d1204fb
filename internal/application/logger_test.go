package application

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "WARN", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "", want: slog.LevelInfo},
		{level: "verbose", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := NewLogger(tt.level)
		if !logger.Enabled(context.Background(), tt.want) {
			t.Fatalf("%q: level %v disabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-1) {
			t.Fatalf("%q: level below %v enabled", tt.level, tt.want)
		}
	}
}
