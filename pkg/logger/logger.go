// Package logger — структурированное логирование сервиса на базе zerolog.
// JSON в production, цветной консольный вывод при LOG_PRETTY=true.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Config — параметры глобального логгера.
type Config struct {
	// Level: debug, info, warn, error. Неизвестное значение трактуется как info.
	Level string
	// Pretty включает zerolog.ConsoleWriter вместо JSON.
	Pretty bool
	// Service добавляется полем "service" в каждую запись.
	Service string
	// Output по умолчанию os.Stdout.
	Output io.Writer
}

func init() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init настраивает глобальный логгер. Вызывается один раз при старте процесса.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)

	zctx := zerolog.New(output).Level(level).With().Timestamp().Caller()
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	log = zctx.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — событие уровня debug.
func Debug() *zerolog.Event { return log.Debug() }

// Info — событие уровня info.
// Пример: logger.Info().Str("order_id", id).Msg("Заказ создан")
func Info() *zerolog.Event { return log.Info() }

// Warn — событие уровня warn.
func Warn() *zerolog.Event { return log.Warn() }

// Error — событие уровня error.
func Error() *zerolog.Event { return log.Error() }

// Fatal пишет запись и завершает процесс с кодом 1.
func Fatal() *zerolog.Event { return log.Fatal() }

// With возвращает контекст для построения дочернего логгера.
func With() zerolog.Context { return log.With() }

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger { return log }

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) { log = l }
