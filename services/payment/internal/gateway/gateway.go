// Package gateway — адаптер платёжного шлюза Finix (payment links).
package gateway

import (
	"context"
	"fmt"
)

// Состояния payment link в Finix, которые возвращает create.
const (
	StateActive      = "ACTIVE"
	StateDeactivated = "DEACTIVATED"
)

// CreateLinkRequest — параметры новой одноразовой ссылки на оплату.
// OrderID уходит в Finix тегом order_id и возвращается в каждом webhook'е.
type CreateLinkRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Description *string
}

// Link — ответ шлюза на создание ссылки.
type Link struct {
	ExternalID string
	URL        string
	State      string
}

// Gateway — операции платёжного шлюза, нужные сервису.
type Gateway interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (*Link, error)
	DeactivateLink(ctx context.Context, externalID string) error
}

// APIError — ответ Finix с кодом вне 2xx.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finix: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary сообщает, что ошибка на стороне шлюза и запрос можно повторить.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
