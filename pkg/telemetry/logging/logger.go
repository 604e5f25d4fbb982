package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures New.
type Config struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string

	// Format is json or text. "console" is accepted as text.
	// Default: json
	Format string

	// AddSource adds the caller's file and line.
	AddSource bool

	// RedactPII masks personal data in attribute values.
	RedactPII bool

	// RedactPatterns are masked in addition to the built-in patterns.
	RedactPatterns []RedactPattern

	// Writer receives the output.
	// Default: os.Stdout
	Writer io.Writer
}

// Logger owns the configured slog.Logger.
type Logger struct {
	slog     *slog.Logger
	level    *slog.LevelVar
	redactor *Redactor
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(level)

	opts := &slog.HandlerOptions{Level: l.level, AddSource: cfg.AddSource}
	if cfg.RedactPII {
		l.redactor, err = NewRedactor(cfg.RedactPatterns)
		if err != nil {
			return nil, err
		}
		opts.ReplaceAttr = l.redactor.ReplaceAttr
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(cfg.Writer, opts)
	} else {
		h = slog.NewTextHandler(cfg.Writer, opts)
	}

	l.slog = slog.New(contextHandler{h})
	return l, nil
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) error {
	lv, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(lv)
	return nil
}

// Redactor returns the redactor, or nil when redaction is off.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}

func parseFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return "json", nil
	case "text", "console":
		return "text", nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
