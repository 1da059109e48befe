// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию сервиса платёжных ссылок.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Jaeger    JaegerConfig
	Metrics   MetricsConfig
	Finix     FinixConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Orders    OrdersConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"quickpay"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — настройки HTTP сервера.
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"` // создание ссылки ждёт ответа Finix
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
	CORSOrigins     []string      `env:"HTTP_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"quickpay"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"false"` // только для локальной разработки
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
// Kafka нужна только Outbox Worker'у для публикации событий заказов.
type KafkaConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"` // Включить metrics endpoint
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`    // Порт для /metrics
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// FinixConfig — настройки платёжного шлюза Finix.
type FinixConfig struct {
	BaseURL       string        `env:"FINIX_BASE_URL" envDefault:"https://finix.sandbox-payments-api.com"`
	Username      string        `env:"FINIX_USERNAME"`
	Password      string        `env:"FINIX_PASSWORD"`
	MerchantID    string        `env:"FINIX_MERCHANT_ID"`
	ApplicationID string        `env:"FINIX_APPLICATION_ID"`
	TermsURL      string        `env:"FINIX_TERMS_URL" envDefault:"https://example.com/terms"`
	APIVersion    string        `env:"FINIX_API_VERSION" envDefault:"2022-02-01"`
	Timeout       time.Duration `env:"FINIX_TIMEOUT" envDefault:"10s"`
	// Fake включает in-process шлюз без сетевых вызовов (только development).
	Fake bool `env:"FINIX_FAKE" envDefault:"false"`
}

// WebhookConfig — защита webhook endpoint'а Basic Auth.
// Пустой BasicUser отключает проверку.
type WebhookConfig struct {
	BasicUser         string `env:"WEBHOOK_BASIC_USER"`
	BasicPasswordHash string `env:"WEBHOOK_BASIC_PASSWORD_HASH"` // bcrypt hash
}

// AuthConfig — валидация JWT токенов клиентского API (RS256).
// Сервис только проверяет токены, выдаёт их внешний Identity Provider.
type AuthConfig struct {
	Enabled       bool   `env:"AUTH_ENABLED" envDefault:"false"`
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"quickpay"`
}

// RateLimitConfig — настройки ограничения запросов к клиентскому API.
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"` // Количество запросов
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`    // Временное окно
}

// OrdersConfig — лимиты выдачи списка заказов.
type OrdersConfig struct {
	ListDefaultLimit int `env:"ORDERS_LIST_DEFAULT_LIMIT" envDefault:"20"`
	ListMaxLimit     int `env:"ORDERS_LIST_MAX_LIMIT" envDefault:"100"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.PublicKeyPath == "" {
		return errors.New("AUTH_ENABLED=true требует JWT_PUBLIC_KEY_PATH")
	}

	if c.Finix.Fake && !c.IsDevelopment() {
		return errors.New("FINIX_FAKE разрешён только в development")
	}

	if !c.Finix.Fake && !c.IsDevelopment() {
		if c.Finix.Username == "" || c.Finix.Password == "" || c.Finix.MerchantID == "" {
			return errors.New("не заданы учётные данные Finix (FINIX_USERNAME, FINIX_PASSWORD, FINIX_MERCHANT_ID)")
		}
	}

	if c.Webhook.BasicUser != "" && c.Webhook.BasicPasswordHash == "" {
		return errors.New("WEBHOOK_BASIC_USER задан без WEBHOOK_BASIC_PASSWORD_HASH")
	}

	if c.Orders.ListDefaultLimit <= 0 || c.Orders.ListMaxLimit < c.Orders.ListDefaultLimit {
		return fmt.Errorf("некорректные лимиты списка заказов: default=%d max=%d",
			c.Orders.ListDefaultLimit, c.Orders.ListMaxLimit)
	}

	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
