package logger

import (
	"io"
	"log/slog"
	"strings"
)

// JSONのslog。LOG_LEVEL（debug/info/warn/error）を反映する
func New(w io.Writer, level string, env string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With(slog.String("service", "agriconnect"), slog.String("env", env))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
