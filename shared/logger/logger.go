package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Redacted replaces the value of sensitive attributes
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output
var sensitiveKeys = map[string]bool{
	"password": true,
	"secret":   true,
	"token":    true,
	"dsn":      true,
}

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error (case-insensitive)
	Format       string // json, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only
	Service      string // added to every record when set
	Environment  string // added to every record when set

	writer io.Writer // overrides Output, used by tests
}

// Logger wraps slog.Logger
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	level := parseLevel(config.Level)

	writer := config.writer
	if writer == nil {
		var err error
		writer, err = openOutput(config.Output)
		if err != nil {
			return nil, err
		}
	}

	var handler slog.Handler
	switch config.Format {
	case "console", "":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}

		handler = tint.NewHandler(writer, &tint.Options{
			Level:       level,
			AddSource:   config.EnableSource,
			TimeFormat:  timeFormat,
			NoColor:     !isTerminal(writer),
			ReplaceAttr: redact,
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:       level,
			AddSource:   config.EnableSource,
			ReplaceAttr: redact,
		})
	}

	logger := slog.New(handler)
	if config.Service != "" {
		logger = logger.With(slog.String("service", config.Service))
	}
	if config.Environment != "" {
		logger = logger.With(slog.String("environment", config.Environment))
	}

	return &Logger{Logger: logger}, nil
}

// NewNop creates a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With creates a new logger with additional key-value pairs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// openOutput resolves the configured output to a writer; anything other than
// stdout/stderr is treated as a file path and opened for appending
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stderr":
		return os.Stderr, nil
	case "stdout", "":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, nil
	}
}

// parseLevel converts string level to slog.Level, defaulting to info
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
