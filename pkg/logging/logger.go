package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig selects the level and handler of the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Format is "json" or "text".
	Format string
	// Output defaults to stdout.
	Output io.Writer
}

// InitLogger builds the process logger, installs it as the slog default and
// returns it.
func InitLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		opts.AddSource = true
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}
