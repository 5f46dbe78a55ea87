package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	taskIDKey  contextKey = "task_id"
	queueKey   contextKey = "queue"
	vodUUIDKey contextKey = "vod_uuid"
)

var defaultLogger *slog.Logger

func Init(level string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// InitWithFile behaves like Init but also writes every record to path.
// The returned closer releases the file.
func InitWithFile(level, path string) (io.Closer, error) {
	if path == "" {
		Init(level)
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	defaultLogger = slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(os.Stdout, opts),
		slog.NewJSONHandler(f, opts),
	))
	slog.SetDefault(defaultLogger)
	return f, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Default() *slog.Logger {
	if defaultLogger == nil {
		Init("info")
	}
	return defaultLogger
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return Default()
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	l := FromContext(ctx).With("task_id", taskID)
	ctx = context.WithValue(ctx, taskIDKey, taskID)
	return WithLogger(ctx, l)
}

func WithQueue(ctx context.Context, queue string) context.Context {
	l := FromContext(ctx).With("queue", queue)
	ctx = context.WithValue(ctx, queueKey, queue)
	return WithLogger(ctx, l)
}

func WithVodUUID(ctx context.Context, vodUUID string) context.Context {
	l := FromContext(ctx).With("vod_uuid", vodUUID)
	ctx = context.WithValue(ctx, vodUUIDKey, vodUUID)
	return WithLogger(ctx, l)
}

func TaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}

func Queue(ctx context.Context) string {
	if q, ok := ctx.Value(queueKey).(string); ok {
		return q
	}
	return ""
}

func VodUUID(ctx context.Context) string {
	if id, ok := ctx.Value(vodUUIDKey).(string); ok {
		return id
	}
	return ""
}

func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
