package service

import (
	"context"
	"errors"

	"example.com/quickpay/pkg/config"
	"example.com/quickpay/services/payment/internal/domain"
	"example.com/quickpay/services/payment/internal/repository"
)

// OrderView — заказ вместе с данными его платёжной ссылки.
type OrderView struct {
	Order       *domain.Order
	CheckoutURL *string
	LinkStatus  domain.LinkStatus
}

// QueryService — чтение заказов для polling клиентом.
// Читает напрямую из БД, без кеша: клиент должен видеть статус сразу после коммита.
type QueryService struct {
	orders       repository.OrderRepository
	defaultLimit int
	maxLimit     int
}

// NewQueryService создаёт сервис чтения заказов.
func NewQueryService(orders repository.OrderRepository, cfg config.OrdersConfig) *QueryService {
	q := &QueryService{
		orders:       orders,
		defaultLimit: cfg.ListDefaultLimit,
		maxLimit:     cfg.ListMaxLimit,
	}
	if q.defaultLimit <= 0 {
		q.defaultLimit = 20
	}
	if q.maxLimit < q.defaultLimit {
		q.maxLimit = q.defaultLimit
	}
	return q
}

// Get возвращает заказ со ссылкой или domain.ErrOrderNotFound.
func (q *QueryService) Get(ctx context.Context, orderID string) (*OrderView, error) {
	order, err := q.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	view := &OrderView{Order: order}

	link, err := q.orders.GetLink(ctx, order.LinkID)
	switch {
	case err == nil:
		view.CheckoutURL = link.CheckoutURL
		view.LinkStatus = link.Status
	case !errors.Is(err, domain.ErrLinkNotFound):
		return nil, err
	}

	return view, nil
}

// List возвращает последние заказы, новые первыми.
// limit <= 0 заменяется значением по умолчанию, слишком большой обрезается.
func (q *QueryService) List(ctx context.Context, limit int) ([]*domain.Order, error) {
	return q.orders.ListRecent(ctx, q.ClampLimit(limit))
}

// ClampLimit приводит limit к допустимому диапазону.
func (q *QueryService) ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return q.defaultLimit
	case limit > q.maxLimit:
		return q.maxLimit
	}
	return limit
}
