package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/brokerpilot/core/internal/infrastructure/config"
)

// serviceName is stamped on every log record.
const serviceName = "brokerpilot"

// Logger is the structured logger handed to every long-lived component
// (Session Manager, Monitor, admin API). It embeds *slog.Logger, so the
// usual Debug/Info/Warn/Error key-value methods are available directly,
// and those four methods are what the session.Logger and monitor.Logger
// interfaces require.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger from the logging section of the configuration.
// Format "text" produces human-readable output for development; anything
// else produces JSON. Output "stderr" writes to stderr; anything else to
// stdout. Every record carries service and version attributes.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler), level: level}
}

// Default returns a JSON stdout logger at info level, for use during early
// startup before the configuration file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a Logger that adds args as default attributes on every
// record, sharing the parent's level and output.
//
//	monLog := log.With("component", "monitor")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// SetLevel changes the minimum level at runtime. It affects this Logger
// and every Logger derived from it via With.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// parseLevel maps a config string to a slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
