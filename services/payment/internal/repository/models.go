// Package repository — хранение заказов, платёжных ссылок и журнала webhook событий в MySQL.
package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/quickpay/pkg/outbox"
	"example.com/quickpay/services/payment/internal/domain"
)

// =============================================================================
// GORM модели
// =============================================================================

// OrderModel — таблица orders.
type OrderModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	LinkID      string    `gorm:"column:link_id;type:varchar(36);not null;uniqueIndex"`
	AmountMinor int64     `gorm:"column:amount_cents;not null"`
	Currency    string    `gorm:"column:currency;type:char(3);not null"`
	Description *string   `gorm:"column:description;type:varchar(255)"`
	Note        *string   `gorm:"column:note;type:varchar(255)"`
	Status      string    `gorm:"column:status;type:varchar(20);not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_orders_created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

func (m *OrderModel) toDomain() *domain.Order {
	return &domain.Order{
		ID:          m.ID,
		LinkID:      m.LinkID,
		AmountMinor: m.AmountMinor,
		Currency:    m.Currency,
		Description: m.Description,
		Note:        m.Note,
		Status:      domain.OrderStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:          o.ID,
		LinkID:      o.LinkID,
		AmountMinor: o.AmountMinor,
		Currency:    o.Currency,
		Description: o.Description,
		Note:        o.Note,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// PaymentLinkModel — таблица payment_links.
type PaymentLinkModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	ExternalLinkID *string   `gorm:"column:external_link_id;type:varchar(64);uniqueIndex"`
	CheckoutURL    *string   `gorm:"column:checkout_url;type:varchar(512)"`
	AmountMinor    int64     `gorm:"column:amount_cents;not null"`
	Currency       string    `gorm:"column:currency;type:char(3);not null"`
	Description    *string   `gorm:"column:description;type:varchar(255)"`
	Status         string    `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentLinkModel) TableName() string {
	return "payment_links"
}

func (m *PaymentLinkModel) toDomain() *domain.PaymentLink {
	return &domain.PaymentLink{
		ID:             m.ID,
		ExternalLinkID: m.ExternalLinkID,
		CheckoutURL:    m.CheckoutURL,
		AmountMinor:    m.AmountMinor,
		Currency:       m.Currency,
		Description:    m.Description,
		Status:         domain.LinkStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func linkModelFromDomain(l *domain.PaymentLink) *PaymentLinkModel {
	return &PaymentLinkModel{
		ID:             l.ID,
		ExternalLinkID: l.ExternalLinkID,
		CheckoutURL:    l.CheckoutURL,
		AmountMinor:    l.AmountMinor,
		Currency:       l.Currency,
		Description:    l.Description,
		Status:         string(l.Status),
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

// WebhookEventModel — таблица webhook_events.
// Уникальный индекс на external_event_id — граница идемпотентности:
// повторная доставка события Finix упирается в него при INSERT.
// У invalid строк external_event_id = NULL, MySQL допускает несколько NULL.
type WebhookEventModel struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalEventID *string    `gorm:"column:external_event_id;type:varchar(64);uniqueIndex:uq_webhook_events_external_id"`
	EntityType      string     `gorm:"column:entity_type;type:varchar(32);not null"`
	EventType       string     `gorm:"column:event_type;type:varchar(32);not null"`
	ResourceID      string     `gorm:"column:resource_id;type:varchar(64);not null;index"`
	Status          string     `gorm:"column:status;type:varchar(16);not null"`
	Error           *string    `gorm:"column:error;type:text"`
	Payload         []byte     `gorm:"column:payload;type:mediumblob;not null"` // тело как есть, может быть не JSON
	ReceivedAt      time.Time  `gorm:"column:received_at;not null"`
	Processed       bool       `gorm:"column:processed;not null;index:idx_webhook_events_processed"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
}

// TableName возвращает имя таблицы в БД.
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

func (m *WebhookEventModel) toDomain() *domain.InboundEvent {
	return &domain.InboundEvent{
		ID:              m.ID,
		ExternalEventID: m.ExternalEventID,
		EntityType:      m.EntityType,
		EventType:       m.EventType,
		ResourceID:      m.ResourceID,
		Status:          domain.EventStatus(m.Status),
		Error:           m.Error,
		RawPayload:      m.Payload,
		ReceivedAt:      m.ReceivedAt,
		Processed:       m.Processed,
		ProcessedAt:     m.ProcessedAt,
	}
}

func eventModelFromDomain(e *domain.InboundEvent) *WebhookEventModel {
	return &WebhookEventModel{
		ExternalEventID: e.ExternalEventID,
		EntityType:      e.EntityType,
		EventType:       e.EventType,
		ResourceID:      e.ResourceID,
		Status:          string(e.Status),
		Error:           e.Error,
		Payload:         e.RawPayload,
		ReceivedAt:      e.ReceivedAt,
		Processed:       e.Processed,
		ProcessedAt:     e.ProcessedAt,
	}
}

// Models возвращает модели для AutoMigrate в локальной разработке.
func Models() []any {
	return []any{
		&OrderModel{},
		&PaymentLinkModel{},
		&WebhookEventModel{},
		&outbox.OutboxModel{},
	}
}

// isDuplicateKeyError распознаёт нарушение UNIQUE (MySQL 1062).
// С TranslateError GORM отдаёт gorm.ErrDuplicatedKey, без него — текст драйвера.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
