// QuickPay Payment Service — платёжные ссылки Finix и сверка статусов заказов.
// Клиент создаёт ссылку через REST API и опрашивает заказ; Finix сообщает об оплате
// webhook'ами, которые журналируются и применяются через единый guarded transition.
// Изменения статусов пишутся в outbox и публикуются в Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/quickpay/pkg/config"
	dbpkg "example.com/quickpay/pkg/db"
	"example.com/quickpay/pkg/healthcheck"
	"example.com/quickpay/pkg/jwt"
	"example.com/quickpay/pkg/kafka"
	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/pkg/metrics"
	"example.com/quickpay/pkg/outbox"
	"example.com/quickpay/pkg/tracing"
	"example.com/quickpay/services/payment/internal/gateway"
	"example.com/quickpay/services/payment/internal/handler"
	"example.com/quickpay/services/payment/internal/middleware"
	"example.com/quickpay/services/payment/internal/repository"
	"example.com/quickpay/services/payment/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	serviceName := cfg.App.Name
	log := logger.With().Str("service", serviceName).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Bool("finix_fake", cfg.Finix.Fake).
		Msg("Запуск Payment Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		if err := db.AutoMigrate(repository.Models()...); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
		log.Info().Msg("Схема БД мигрирована")
	}

	checks := []healthcheck.Check{healthcheck.MySQL(db)}

	// Redis нужен только для rate limiting клиентского API
	var (
		rdb         *redis.Client
		rateLimitMW *middleware.RateLimiter
	)
	if cfg.RateLimit.Enabled {
		rdb, err = dbpkg.ConnectRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
		}
		log.Info().Msg("Подключение к Redis установлено")

		rateLimitMW = middleware.NewRateLimiter(rdb, cfg.RateLimit.RequestsLimit, cfg.RateLimit.Window)
		checks = append(checks, healthcheck.Redis(rdb))
	}

	// ReadinessChecker для /readyz — проверяет MySQL и Redis
	readinessCheck := healthcheck.Composite(checks...)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readinessCheck)),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	var gw gateway.Gateway
	if cfg.Finix.Fake {
		log.Warn().Msg("Используется fake платёжный шлюз — ссылки не создаются в Finix")
		gw = gateway.NewFake()
	} else {
		gw = gateway.NewFinixClient(cfg.Finix)
	}

	orderRepo := repository.NewOrderRepository(db)
	eventLog := repository.NewEventLog(db)

	reconciler := service.NewReconciler(orderRepo, eventLog, gw)
	queryService := service.NewQueryService(orderRepo, cfg.Orders)

	// === HTTP ===

	routerCfg := handler.RouterConfig{
		ServiceName:    serviceName,
		Links:          reconciler,
		Orders:         queryService,
		Webhooks:       reconciler,
		Events:         eventLog,
		WebhookAuthMW:  middleware.WebhookBasicAuth(cfg.Webhook.BasicUser, cfg.Webhook.BasicPasswordHash),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		DevRoutes:      cfg.IsDevelopment(),
		ReadinessCheck: handler.ReadinessChecker(readinessCheck),
		Debug:          cfg.IsDevelopment(),
	}

	if cfg.Auth.Enabled {
		verifier, err := jwt.NewVerifier(jwt.Config{
			PublicKeyPath: cfg.Auth.PublicKeyPath,
			Issuer:        cfg.Auth.Issuer,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка инициализации JWT Verifier")
		}
		routerCfg.AuthMW = middleware.BearerAuth(verifier)
	} else {
		log.Warn().Msg("JWT авторизация клиентского API отключена")
	}

	if rateLimitMW != nil {
		routerCfg.RateLimitMW = rateLimitMW.Handle()
	}

	if cfg.Webhook.BasicUser == "" {
		log.Warn().Msg("Webhook endpoint не защищён Basic Auth")
	}

	router := handler.NewRouter(routerCfg)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Контекст для фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Outbox → Kafka ===

	var kafkaProducer *kafka.Producer
	var workersWg sync.WaitGroup // ожидание завершения фоновых воркеров при shutdown

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		topicsCtx, topicsCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := kafka.EnsureTopics(topicsCtx, cfg.Kafka.Brokers, kafka.TopicSpecs()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
		topicsCancel()

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		outboxWorker := outbox.NewOutboxWorker(
			outbox.NewRepository(db, service.AggregateOrder),
			kafkaProducer,
			outbox.DefaultWorkerConfig(),
		)
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
				}
			}()
			outboxWorker.Run(logger.WithLogger(ctx, log))
		}()
	} else {
		log.Warn().Msg("Kafka отключена — события заказов копятся в outbox")
	}

	// === Запуск HTTP сервера ===

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP сервер запущен")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Получен сигнал завершения, останавливаем сервер...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Ошибка HTTP сервера")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Сначала перестаём принимать запросы, чтобы новые outbox записи не появлялись
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Останавливаем Outbox Worker и ждём завершения
	cancel()
	workersWg.Wait()

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if err := dbpkg.CloseMySQL(db); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия MySQL")
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment Service остановлен")
}
