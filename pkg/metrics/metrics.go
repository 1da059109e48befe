// Package metrics — Prometheus метрики сервиса платёжных ссылок и HTTP сервер /metrics.
//
// Помимо метрик HTTP запросов собирается доменная статистика:
// исход обработки webhook'ов Finix, переходы статусов заказов и вызовы шлюза.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/quickpay/pkg/logger"
)

// =============================================================================
// HTTP метрики
// =============================================================================

var (
	// RequestsTotal — запросы по маршруту и статусу.
	// PromQL: rate(requests_total{service="quickpay"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency запросов, от 5ms до 10s.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Доменные метрики
// =============================================================================

var (
	// WebhookEventsTotal — входящие события по типу сущности и исходу
	// (probe, invalid, duplicate, applied, ignored, failed).
	// Рост outcome="failed" означает строки webhook_events с processed=false.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Количество webhook событий по типу сущности и результату обработки",
		},
		[]string{"entity", "outcome"},
	)

	// OrderTransitionsTotal — применённые переходы статусов заказов.
	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Количество применённых переходов статуса заказа",
		},
		[]string{"from", "to", "source"},
	)

	// GatewayRequestsTotal — вызовы платёжного шлюза по операции и результату.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Количество вызовов платёжного шлюза",
		},
		[]string{"operation", "status"},
	)

	// GatewayRequestDuration — latency вызовов шлюза.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Время вызова платёжного шлюза в секундах",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// OutboxRecordsTotal — исход публикации записей outbox (published, failed, dead_lettered).
	OutboxRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_records_total",
			Help: "Количество обработанных записей outbox по результату",
		},
		[]string{"result"},
	)

	// OutboxLag — возраст самой старой неотправленной записи в последней пачке.
	// Постоянный рост означает, что Kafka недоступна.
	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_lag_seconds",
			Help: "Возраст самой старой неотправленной записи outbox в секундах",
		},
	)
)

// RecordRequest записывает метрики запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordWebhookEvent учитывает обработанное webhook событие.
func RecordWebhookEvent(entity, outcome string) {
	if entity == "" {
		entity = "unknown"
	}
	WebhookEventsTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordTransition учитывает применённый переход статуса.
func RecordTransition(from, to, source string) {
	OrderTransitionsTotal.WithLabelValues(from, to, source).Inc()
}

// RecordGatewayCall учитывает вызов шлюза; status — "success" или "error".
func RecordGatewayCall(operation, status string, duration time.Duration) {
	GatewayRequestsTotal.WithLabelValues(operation, status).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOutbox учитывает исход публикации записи outbox.
func RecordOutbox(result string) {
	OutboxRecordsTotal.WithLabelValues(result).Inc()
}

// SetOutboxLag выставляет возраст самой старой неотправленной записи.
func SetOutboxLag(lag time.Duration) {
	OutboxLag.Set(lag.Seconds())
}

// =============================================================================
// HTTP Server для /metrics
// =============================================================================

// ReadinessChecker — проверка готовности; ошибка переводит /readyz в 503.
type ReadinessChecker func(ctx context.Context) error

// Server — отдельный HTTP сервер для Prometheus и probe'ов Kubernetes.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option — функциональная опция Server.
type Option func(*Server)

// WithReadinessCheck подключает проверку зависимостей к /readyz.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт metrics server на addr (например ":9090").
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", LivenessHandler)
	mux.HandleFunc("/readyz", ReadinessHandler(service, s.readinessCheck))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

// ReadinessHandler возвращает /readyz handler. nil checker означает "готов".
func ReadinessHandler(service string, check ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			if err := check(ctx); err != nil {
				// Детали ошибки наружу не отдаём
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"not_ready"}`))
				logger.Warn().Err(err).Str("service", service).Msg("Проверка готовности не пройдена")
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// Start запускает сервер. Блокирующий вызов.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Gin middleware
// =============================================================================

// GinMetricsMiddleware собирает requests_total и request_duration_seconds.
// Метка method — шаблон маршрута (c.FullPath), чтобы id заказов не раздували кардинальность.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		RecordRequest(service, route, status, time.Since(start))
	}
}
