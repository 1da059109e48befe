package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/quickpay/pkg/metrics"
	pkgmw "example.com/quickpay/pkg/middleware"
	"example.com/quickpay/services/payment/internal/middleware"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — HTTP роутер сервиса.
type Router struct {
	engine         *gin.Engine
	cfg            RouterConfig
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	ServiceName string

	Links    LinkService
	Orders   OrderReader
	Webhooks WebhookProcessor
	Events   EventAudit // опционально: GET /v1/ops/webhook-events

	AuthMW        gin.HandlerFunc // nil — клиентский API без авторизации
	RateLimitMW   gin.HandlerFunc // nil — без ограничения запросов
	WebhookAuthMW gin.HandlerFunc // nil — webhook без Basic Auth

	CORSOrigins    []string
	MaxBodyBytes   int64
	DevRoutes      bool             // регистрировать /v1/dev/* (только development)
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "quickpay"
	}

	engine := gin.New()

	// Паника в обработчике → 500 и лог со стеком
	engine.Use(pkgmw.Recovery())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware(cfg.ServiceName))

	// trace/correlation id и логгер запроса в context
	engine.Use(pkgmw.RequestIDs())
	engine.Use(pkgmw.AccessLog())

	engine.Use(middleware.CORS(cfg.CORSOrigins))
	engine.Use(middleware.SecurityHeaders())

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware(cfg.ServiceName))

	r := &Router{
		engine:         engine,
		cfg:            cfg,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// === Webhook'и Finix ===
	webhookHandler := NewWebhookHandler(r.cfg.Webhooks, r.cfg.MaxBodyBytes)
	webhooks := r.engine.Group("/webhooks")
	if r.cfg.WebhookAuthMW != nil {
		webhooks.Use(r.cfg.WebhookAuthMW)
	}
	webhooks.POST("/finix", webhookHandler.Receive)

	// === Клиентский API ===
	v1 := r.engine.Group("/v1")

	// Auth раньше rate limit: лимит считается по subject токена
	if r.cfg.AuthMW != nil {
		v1.Use(r.cfg.AuthMW)
	}
	if r.cfg.RateLimitMW != nil {
		v1.Use(r.cfg.RateLimitMW)
	}

	orderHandler := NewOrderHandler(r.cfg.Links, r.cfg.Orders)
	{
		v1.POST("/links", orderHandler.CreateLink)
		v1.GET("/orders", orderHandler.ListOrders)
		v1.GET("/orders/:id", orderHandler.GetOrder)
		v1.POST("/orders/:id/cancel", orderHandler.CancelOrder)
	}

	if r.cfg.DevRoutes {
		v1.POST("/dev/orders/:id/mark", orderHandler.MarkStatus)
	}

	if r.cfg.Events != nil {
		auditHandler := NewEventAuditHandler(r.cfg.Events)
		v1.GET("/ops/webhook-events", auditHandler.ListUnprocessed)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheck — проверка работоспособности сервиса (legacy).
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": r.cfg.ServiceName,
	})
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
// Возвращает 200 OK если все зависимости доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
