// Package tracing — OpenTelemetry трассировка с экспортом в Jaeger по OTLP/gRPC.
//
// Входящие HTTP запросы получают span от otelgin, вызовы Finix —
// дочерние spans из gateway клиента (tracing.Tracer("finix")).
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/quickpay/pkg/logger"
)

// Config — настройки трассировки.
type Config struct {
	ServiceName    string
	Environment    string
	JaegerEndpoint string  // host:port OTLP gRPC
	SampleRatio    float64 // 0 — значение по умолчанию (1.0)
	Enabled        bool
}

// ShutdownFunc сбрасывает накопленные spans и закрывает соединение.
type ShutdownFunc func(ctx context.Context) error

// InitTracer настраивает глобальный TracerProvider.
// При выключенной трассировке возвращает no-op shutdown.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	log := logger.With().Str("component", "tracing").Logger()

	if !cfg.Enabled || cfg.JaegerEndpoint == "" {
		log.Info().Msg("Tracing отключен")
		return func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(cfg.JaegerEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к OTLP endpoint: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка создания OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().Str("endpoint", cfg.JaegerEndpoint).Msg("Tracing инициализирован (Jaeger OTLP)")

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Ошибка завершения TracerProvider")
		}
		return conn.Close()
	}, nil
}

// Tracer возвращает именованный tracer из глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer("example.com/quickpay/" + name)
}
