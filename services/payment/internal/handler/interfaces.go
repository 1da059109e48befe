// Package handler содержит HTTP обработчики клиентского API и webhook'ов Finix.
package handler

import (
	"context"

	"example.com/quickpay/services/payment/internal/domain"
	"example.com/quickpay/services/payment/internal/service"
)

// LinkService — операции, меняющие заказы (реализация — *service.Reconciler).
// Позволяет мокировать движок сверки в тестах.
type LinkService interface {
	// Create создаёт ссылку в Finix и локальный заказ.
	Create(ctx context.Context, in domain.CreateParams) (*service.CreateResult, error)

	// Cancel отменяет заказ и деактивирует ссылку.
	Cancel(ctx context.Context, orderID string) (*domain.Order, error)

	// MarkStatus вручную переводит заказ (только development).
	MarkStatus(ctx context.Context, orderID, status string) (*service.TransitionResult, error)
}

// WebhookProcessor — приём webhook'ов платёжного шлюза.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte) (service.WebhookResult, error)
}

// OrderReader — чтение заказов для polling (реализация — *service.QueryService).
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*service.OrderView, error)
	List(ctx context.Context, limit int) ([]*domain.Order, error)
}

// EventAudit — просмотр необработанных webhook событий оператором.
type EventAudit interface {
	ListUnprocessed(ctx context.Context, limit int) ([]*domain.InboundEvent, error)
}
