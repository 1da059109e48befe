package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"example.com/quickpay/pkg/logger"
)

// AccessLog логирует каждый запрос после ответа.
// Уровень зависит от статуса: 4xx — warn, 5xx — error.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log := logger.Ctx(c.Request.Context())
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP запрос")
	}
}
