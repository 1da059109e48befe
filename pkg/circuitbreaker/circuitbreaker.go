// Package circuitbreaker — Circuit Breaker для исходящих HTTP вызовов платёжного шлюза.
//
// Состояния:
//   - Closed: запросы проходят
//   - Open: шлюз считается недоступным, вызовы отклоняются без сетевого запроса
//   - Half-Open: пропускаем пробные запросы для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("finix", circuitbreaker.WithFailurePredicate(isServerError))
//	err := cb.Execute(ctx, func(ctx context.Context) error { ... })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/quickpay/pkg/logger"
)

// ErrUnavailable возвращается, когда breaker открыт или исчерпан лимит Half-Open.
var ErrUnavailable = errors.New("circuit breaker: внешний сервис временно недоступен")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Запросов в Half-Open
	Interval     time.Duration // Сброс счётчиков в Closed
	Timeout      time.Duration // Время в Open до перехода в Half-Open
	FailureRatio float64       // Доля ошибок для открытия
	MinRequests  uint32        // Минимум запросов для расчёта доли
}

// DefaultSettings — настройки по умолчанию для платёжного шлюза.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Option — функциональная опция Breaker.
type Option func(*Breaker)

// WithSettings задаёт пороги срабатывания.
func WithSettings(s Settings) Option {
	return func(b *Breaker) { b.settings = s }
}

// WithFailurePredicate задаёт, какие ошибки считаются сбоем шлюза.
// Ошибки, для которых predicate вернул false (например 4xx), возвращаются
// вызывающему, но не открывают breaker.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker — обёртка над gobreaker с логированием смены состояния.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[struct{}]
	name      string
	settings  Settings
	isFailure func(error) bool
}

// New создаёт Circuit Breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		settings:  DefaultSettings(),
		isFailure: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(b)
	}

	s := b.settings
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — шлюз недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — шлюз восстановлен")
			}
		},
	})

	return b
}

// Execute выполняет fn через breaker. Возвращает ошибку fn как есть;
// при открытом breaker — ErrUnavailable без вызова fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var callErr error

	_, cbErr := b.cb.Execute(func() (struct{}, error) {
		callErr = fn(ctx)
		if callErr != nil && b.isFailure(callErr) {
			return struct{}{}, callErr
		}
		return struct{}{}, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}

	return callErr
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
