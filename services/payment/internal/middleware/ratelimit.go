package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/quickpay/pkg/logger"
)

const rateLimitKeyPrefix = "quickpay:ratelimit:"

// fixedWindowScript атомарно увеличивает счётчик окна и ставит TTL
// при первом запросе. Возвращает {счётчик, оставшийся TTL в мс}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// RateLimiter — счётчик запросов клиента в Redis (fixed window).
// Лимит общий для всех реплик сервиса.
type RateLimiter struct {
	redis  redis.UniversalClient
	limit  int
	window time.Duration
}

// NewRateLimiter создаёт лимитер. Некорректные параметры заменяются
// значениями по умолчанию: 100 запросов в минуту.
func NewRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: rdb, limit: limit, window: window}
}

// Handle возвращает gin middleware. Клиент определяется по subject токена,
// без аутентификации — по IP. Ошибка Redis пропускает запрос (fail-open).
func (l *RateLimiter) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		client := c.GetString(ContextSubject)
		if client == "" {
			client = "ip:" + c.ClientIP()
		}

		res, err := fixedWindowScript.Run(ctx, l.redis, []string{rateLimitKeyPrefix + client}, l.window.Milliseconds()).Int64Slice()
		if err != nil || len(res) != 2 {
			logger.Ctx(ctx).Warn().Err(err).Msg("Rate limit недоступен, пропускаем запрос")
			c.Next()
			return
		}

		count, ttl := res[0], time.Duration(res[1])*time.Millisecond
		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(l.limit) {
			retryAfter := int(ttl.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.Ctx(ctx).Warn().Str("client", client).Int("limit", l.limit).Msg("Превышен лимит запросов")
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Превышен лимит запросов, повторите через " + strconv.Itoa(retryAfter) + " с",
			})
			return
		}

		c.Next()
	}
}
