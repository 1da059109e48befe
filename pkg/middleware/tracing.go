package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"example.com/quickpay/pkg/logger"
)

// HTTP заголовки идентификаторов запроса.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID" // алиас trace id
)

// Ключи gin.Context.
const (
	ContextTraceID       = "trace_id"
	ContextCorrelationID = "correlation_id"
)

// RequestIDs извлекает или генерирует trace_id и correlation_id,
// кладёт их в context запроса и возвращает клиенту в заголовках.
// Если запрос уже в otel span'е (otelgin), trace_id берётся из него,
// чтобы логи совпадали с трейсами в Jaeger.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = c.GetHeader(HeaderRequestID)
		}
		if traceID == "" {
			if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = traceID
		}

		ctx := logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Set(ContextTraceID, traceID)
		c.Set(ContextCorrelationID, correlationID)

		c.Next()
	}
}
