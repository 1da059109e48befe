package domain

import (
	"slices"
	"time"
)

// LinkStatus — упрощённый жизненный цикл платёжной ссылки.
// Статус ссылки следует за статусом заказа и сам по себе не авторитетен.
type LinkStatus string

const (
	LinkStatusPending   LinkStatus = "pending"   // сохранена после ответа шлюза
	LinkStatusCreated   LinkStatus = "created"   // шлюз подтвердил ACTIVE
	LinkStatusPaid      LinkStatus = "paid"      // оплачена
	LinkStatusCancelled LinkStatus = "cancelled" // отменена или деактивирована
)

var linkTransitions = map[LinkStatus][]LinkStatus{
	LinkStatusPending: {LinkStatusCreated, LinkStatusPaid, LinkStatusCancelled},
	LinkStatusCreated: {LinkStatusPaid, LinkStatusCancelled},
}

// IsTerminal возвращает true для paid и cancelled.
func (s LinkStatus) IsTerminal() bool {
	return s == LinkStatusPaid || s == LinkStatusCancelled
}

// CanAdvanceTo проверяет, что next продвигает ссылку вперёд.
func (s LinkStatus) CanAdvanceTo(next LinkStatus) bool {
	return slices.Contains(linkTransitions[s], next)
}

// PaymentLink — ссылка на оплату в Finix, парная заказу по общему id.
type PaymentLink struct {
	ID             string
	ExternalLinkID *string // id ссылки в Finix, задаётся один раз
	CheckoutURL    *string
	AmountMinor    int64
	Currency       string
	Description    *string
	Status         LinkStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPaymentLink создаёт ссылку в статусе pending по ответу шлюза.
func NewPaymentLink(order *Order, externalID, checkoutURL string) *PaymentLink {
	link := &PaymentLink{
		ID:          order.LinkID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Description: order.Description,
		Status:      LinkStatusPending,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.CreatedAt,
	}
	if externalID != "" {
		link.ExternalLinkID = &externalID
	}
	if checkoutURL != "" {
		link.CheckoutURL = &checkoutURL
	}
	return link
}
