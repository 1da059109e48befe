package domain

import (
	"strings"
	"time"
)

// CorrelationTagKey — ключ тега Finix, в котором хранится id локального заказа.
const CorrelationTagKey = "order_id"

// Типы сущностей в webhook событиях Finix.
const (
	EntityPaymentLink = "payment_link"
	EntityTransfer    = "transfer"
)

// Пределы длины полей журнала; совпадают с размерами колонок webhook_events.
const (
	MaxExternalIDLength = 64 // external_event_id, resource_id
	MaxEventKindLength  = 32 // entity_type, event_type
)

// EventStatus — результат разбора тела webhook'а.
type EventStatus string

const (
	EventStatusReceived EventStatus = "received"
	EventStatusInvalid  EventStatus = "invalid" // тело не разобрано, хранится для разбора оператором
)

// InboundEvent — запись журнала входящих webhook событий.
type InboundEvent struct {
	ID              int64
	ExternalEventID *string // id события Finix; уникален, nil у invalid строк
	EntityType      string
	EventType       string
	ResourceID      string
	Status          EventStatus
	Error           *string // причина, по которой событие признано invalid
	RawPayload      []byte
	ReceivedAt      time.Time
	Processed       bool
	ProcessedAt     *time.Time
}

// NewReceivedEvent создаёт запись для успешно разобранного события.
func NewReceivedEvent(externalID, entityType, eventType, resourceID string, payload []byte, receivedAt time.Time) *InboundEvent {
	return &InboundEvent{
		ExternalEventID: &externalID,
		EntityType:      entityType,
		EventType:       eventType,
		ResourceID:      resourceID,
		Status:          EventStatusReceived,
		RawPayload:      payload,
		ReceivedAt:      receivedAt,
	}
}

// NewInvalidEvent создаёт запись для тела, которое не удалось разобрать.
func NewInvalidEvent(payload []byte, reason string, receivedAt time.Time) *InboundEvent {
	return &InboundEvent{
		Status:     EventStatusInvalid,
		Error:      &reason,
		RawPayload: payload,
		ReceivedAt: receivedAt,
	}
}

// =============================================================================
// Сопоставление внешних состояний со статусами заказа
// =============================================================================

// Target — запрошенные webhook'ом статусы заказа и ссылки.
// Пустой Link означает "статус ссылки не меняется".
type Target struct {
	Order OrderStatus
	Link  LinkStatus
}

var linkStateTargets = map[string]Target{
	"ACTIVE":      {Order: OrderStatusCreated, Link: LinkStatusCreated},
	"COMPLETED":   {Order: OrderStatusCaptured, Link: LinkStatusPaid},
	"CANCELED":    {Order: OrderStatusFailed, Link: LinkStatusCancelled},
	"CANCELLED":   {Order: OrderStatusFailed, Link: LinkStatusCancelled},
	"DEACTIVATED": {Order: OrderStatusFailed, Link: LinkStatusCancelled},
}

var transferStateTargets = map[string]Target{
	"PENDING":   {Order: OrderStatusAuthorized},
	"SUCCEEDED": {Order: OrderStatusCaptured, Link: LinkStatusPaid},
}

// MapLinkState переводит состояние payment_link Finix в целевые статусы.
// Неизвестные состояния возвращают ok=false и должны игнорироваться.
func MapLinkState(state string) (Target, bool) {
	t, ok := linkStateTargets[strings.ToUpper(strings.TrimSpace(state))]
	return t, ok
}

// MapTransferState переводит состояние transfer Finix в целевые статусы.
// FAILED не маппится: неудачная попытка оплаты не закрывает ссылку,
// покупатель может повторить оплату другой картой.
func MapTransferState(state string) (Target, bool) {
	t, ok := transferStateTargets[strings.ToUpper(strings.TrimSpace(state))]
	return t, ok
}

// TargetForStatus возвращает парный статус ссылки для ручного перехода.
func TargetForStatus(s OrderStatus) Target {
	switch s {
	case OrderStatusCaptured:
		return Target{Order: s, Link: LinkStatusPaid}
	case OrderStatusFailed:
		return Target{Order: s, Link: LinkStatusCancelled}
	}
	return Target{Order: s}
}

// =============================================================================
// Transition — описание атомарной записи статусов
// =============================================================================

// Источники перехода (метка метрик и событий outbox).
const (
	SourceWebhook      = "webhook"
	SourceClientCancel = "client_cancel"
	SourceManual       = "manual"
)

// Transition — compare-and-set заказа и ссылки в одной транзакции.
// From/LinkFrom — ожидаемые текущие значения. To == From означает,
// что строка заказа не меняется; пустой LinkTo — строка ссылки не меняется.
type Transition struct {
	OrderID  string
	From     OrderStatus
	To       OrderStatus
	LinkFrom LinkStatus
	LinkTo   LinkStatus
	Source   string
	At       time.Time
}

// ChangesOrder сообщает, меняется ли статус заказа.
func (t Transition) ChangesOrder() bool { return t.From != t.To }

// ChangesLink сообщает, меняется ли статус ссылки.
func (t Transition) ChangesLink() bool { return t.LinkTo != "" && t.LinkTo != t.LinkFrom }
