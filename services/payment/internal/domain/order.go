// Package domain содержит сущности сервиса платёжных ссылок: заказ, платёжную ссылку,
// запись журнала webhook событий и конечный автомат статусов заказа.
package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// OrderStatus — статус заказа.
type OrderStatus string

const (
	// OrderStatusCreated — ссылка создана, оплаты ещё не было.
	OrderStatusCreated OrderStatus = "CREATED"

	// OrderStatusAuthorized — платёж авторизован, но не списан.
	OrderStatusAuthorized OrderStatus = "AUTHORIZED"

	// OrderStatusCaptured — деньги списаны. Финальный статус.
	OrderStatusCaptured OrderStatus = "CAPTURED"

	// OrderStatusFailed — заказ отменён или ссылка деактивирована. Финальный статус.
	OrderStatusFailed OrderStatus = "FAILED"
)

// IsTerminal возвращает true для CAPTURED и FAILED.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCaptured || s == OrderStatusFailed
}

// IsValid проверяет, что статус известен.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusAuthorized, OrderStatusCaptured, OrderStatusFailed:
		return true
	}
	return false
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// =============================================================================
// Конечный автомат статусов
// =============================================================================

// allowedTransitions — переходы, меняющие статус. Повтор текущего статуса
// обрабатывается отдельно как идемпотентный no-op.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:    {OrderStatusAuthorized, OrderStatusCaptured, OrderStatusFailed},
	OrderStatusAuthorized: {OrderStatusCaptured, OrderStatusFailed},
	// CAPTURED и FAILED — терминальные
}

// Decision — результат сопоставления текущего и запрошенного статуса.
type Decision int

const (
	// DecisionApply — переход допустим и должен быть записан.
	DecisionApply Decision = iota + 1
	// DecisionNoOp — запрошен текущий статус, менять нечего.
	DecisionNoOp
	// DecisionReject — регресс или выход из финального статуса; молча отбрасывается.
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "applied"
	case DecisionNoOp:
		return "noop"
	case DecisionReject:
		return "rejected"
	}
	return "unknown"
}

// Decide — единственная точка принятия решения о переходе статуса заказа.
// Финальный статус побеждает любой более поздний сигнал.
func Decide(current, requested OrderStatus) Decision {
	if current == requested {
		return DecisionNoOp
	}
	if slices.Contains(allowedTransitions[current], requested) {
		return DecisionApply
	}
	return DecisionReject
}

// =============================================================================
// Order — доменная сущность
// =============================================================================

// MaxTextLength — предел для описания и заметки (символы).
const MaxTextLength = 255

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Order — локальный заказ. Все поля, кроме Status и UpdatedAt, неизменяемы.
type Order struct {
	ID          string
	LinkID      string // id платёжной ссылки; совпадает с ID заказа
	AmountMinor int64  // сумма в минимальных единицах валюты
	Currency    string
	Description *string
	Note        *string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams — входные данные для нового заказа.
type CreateParams struct {
	AmountMinor int64
	Currency    string
	Description *string
	Note        *string
}

// Normalize приводит валюту к верхнему регистру и проверяет параметры.
func (p CreateParams) Normalize() (CreateParams, error) {
	if p.AmountMinor <= 0 {
		return p, ErrInvalidAmount
	}

	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if !currencyPattern.MatchString(p.Currency) {
		return p, fmt.Errorf("%w: %q", ErrInvalidCurrency, p.Currency)
	}

	p.Description = trimOptional(p.Description)
	p.Note = trimOptional(p.Note)

	for _, text := range []*string{p.Description, p.Note} {
		if text != nil && utf8.RuneCountInString(*text) > MaxTextLength {
			return p, ErrTextTooLong
		}
	}

	return p, nil
}

// NewOrder создаёт заказ в статусе CREATED. Параметры должны быть нормализованы.
func NewOrder(id string, p CreateParams, now time.Time) *Order {
	return &Order{
		ID:          id,
		LinkID:      id,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Description: p.Description,
		Note:        p.Note,
		Status:      OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
