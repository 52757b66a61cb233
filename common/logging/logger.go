package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/adcraft-labs/creative-qa/common/middleware"
)

// Logger wraps slog.Logger so request-scoped values (request ID, operator)
// are attached automatically when logging with a context.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stdout. format is "json" or "text"; anything
// else falls back to json.
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a Logger backed by slog.Default.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext returns the underlying slog.Logger enriched with the request ID
// and operator found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.Logger
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		logger = logger.With(slog.String(FieldRequestID, reqID))
	}
	if op := middleware.GetOperator(ctx); op != "" {
		logger = logger.With(slog.String(FieldOperator, op))
	}
	return logger
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).ErrorContext(ctx, msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).DebugContext(ctx, msg, args...)
}

// With returns a child Logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithGroup returns a child Logger that nests subsequent attributes under name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name)}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a
// slog.Level. Unknown values yield slog.LevelInfo.
func ParseLevel(level string) slog.Level {
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

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
