package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// New returns a JSON slog logger. The level is read from LOG_LEVEL
// (debug/info/warn/error), defaulting to info.
func New() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// withTrace appends the active trace and span IDs, if any.
func withTrace(ctx context.Context, args []any) []any {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		args = append(args,
			"trace_id", spanCtx.TraceID().String(),
			"span_id", spanCtx.SpanID().String(),
		)
	}
	return args
}

func Debug(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Debug(msg, withTrace(ctx, args)...)
}

func Info(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Info(msg, withTrace(ctx, args)...)
}

func Warn(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Warn(msg, withTrace(ctx, args)...)
}

func Error(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, withTrace(ctx, args)...)
}
