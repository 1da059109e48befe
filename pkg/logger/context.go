package logger

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	// traceIDKey — идентификатор HTTP запроса (X-Trace-ID).
	traceIDKey ctxKey = "trace_id"
	// correlationIDKey — идентификатор бизнес-операции (X-Correlation-ID,
	// для webhook'ов — id события Finix).
	correlationIDKey ctxKey = "correlation_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID кладёт trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id или пустую строку.
func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}

// WithCorrelationID кладёт correlation_id в контекст.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext возвращает correlation_id или пустую строку.
func CorrelationIDFromContext(ctx context.Context) string {
	correlationID, _ := ctx.Value(correlationIDKey).(string)
	return correlationID
}

// WithLogger сохраняет подготовленный логгер в контексте.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает подготовленный логгер из контекста. Если его нет,
// берётся глобальный с полями trace_id и correlation_id, если они заданы.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}

	l := log
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		l = l.With().Str("correlation_id", correlationID).Logger()
	}

	return l
}

// Ctx — то же, что FromContext, но возвращает указатель.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs переносит идентификаторы в новый контекст,
// пустые значения пропускаются.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
