// Package middleware — HTTP middleware клиентского API и webhook endpoint'а.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"example.com/quickpay/pkg/jwt"
	"example.com/quickpay/pkg/logger"
)

// Ключи gin.Context с данными аутентифицированного клиента.
const (
	ContextSubject    = "subject"
	ContextTerminalID = "terminal_id"
)

// TokenVerifier проверяет bearer токен (реализация — *jwt.Verifier).
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// BearerAuth пропускает только запросы с валидным RS256 токеном.
func BearerAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.Ctx(c.Request.Context())

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "Требуется авторизация")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("Токен не прошёл проверку")
			abortUnauthorized(c, "Невалидный токен")
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextTerminalID, claims.TerminalID)
		c.Next()
	}
}

// bearerToken извлекает токен из "Bearer <token>" (префикс без учёта регистра).
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WebhookBasicAuth защищает webhook Basic Auth с bcrypt хешем пароля,
// настроенным в дашборде Finix. Пустой user отключает проверку.
func WebhookBasicAuth(user, passwordHash string) gin.HandlerFunc {
	if user == "" {
		return func(c *gin.Context) { c.Next() }
	}

	hash := []byte(passwordHash)
	return func(c *gin.Context) {
		gotUser, gotPass, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) != 1 ||
			bcrypt.CompareHashAndPassword(hash, []byte(gotPass)) != nil {
			logger.Ctx(c.Request.Context()).Warn().
				Str("client_ip", c.ClientIP()).
				Msg("Webhook отклонён: неверные учётные данные")
			c.Header("WWW-Authenticate", `Basic realm="finix-webhooks"`)
			abortUnauthorized(c, "Неверные учётные данные")
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
