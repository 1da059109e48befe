// Package middleware — общие gin middleware: перехват паник,
// идентификаторы запроса и access-лог.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"example.com/quickpay/pkg/logger"
)

// Recovery перехватывает панику в handler'е, логирует stack trace
// и отвечает 500. Детали паники клиенту не раскрываются.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Ctx(c.Request.Context()).Error().
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Перехвачена паника в HTTP handler")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Внутренняя ошибка сервера",
				})
			}
		}()

		c.Next()
	}
}
