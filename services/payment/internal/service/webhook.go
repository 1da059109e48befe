package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"example.com/quickpay/services/payment/internal/domain"
)

// =============================================================================
// Разбор webhook событий Finix
// =============================================================================

// finixEnvelope — верхний уровень события Finix.
type finixEnvelope struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`   // created, updated
	Entity   string         `json:"entity"` // payment_link, transfer, ...
	Embedded *finixEmbedded `json:"_embedded"`
}

type finixEmbedded struct {
	PaymentLinks []LinkPayload     `json:"payment_links"`
	Transfers    []TransferPayload `json:"transfers"`
}

// LinkPayload — payment_link из события (нужны только id, state и теги).
type LinkPayload struct {
	ID    string            `json:"id"`
	State string            `json:"state"`
	Tags  map[string]string `json:"tags"`
}

// TransferPayload — transfer из события.
// Amount — json.Number: Finix присылает и целые, и дробные значения.
type TransferPayload struct {
	ID       string            `json:"id"`
	Amount   json.Number       `json:"amount"`
	Currency string            `json:"currency"`
	State    string            `json:"state"`
	Tags     map[string]string `json:"tags"`
}

// ParsedEvent — успешно разобранное событие.
type ParsedEvent struct {
	ID       string
	Type     string
	Entity   string
	Link     *LinkPayload     // первый элемент _embedded.payment_links
	Transfer *TransferPayload // первый элемент _embedded.transfers
}

// MalformedEvent — тело, которое не удалось разобрать.
type MalformedEvent struct {
	Reason string
}

// ParseResult содержит ровно одно из: Event или Malformed.
type ParseResult struct {
	Event     *ParsedEvent
	Malformed *MalformedEvent
}

func malformed(reason string) ParseResult {
	return ParseResult{Malformed: &MalformedEvent{Reason: reason}}
}

// tooLong — поле не помещается в колонку журнала, такое тело хранится как invalid.
func tooLong(field string, limit int) ParseResult {
	return malformed(fmt.Sprintf("поле %s длиннее %d байт", field, limit))
}

// ParseEvent разбирает тело webhook'а. Ошибку не возвращает:
// неразборчивое тело — это MalformedEvent, который тоже сохраняется.
func ParseEvent(body []byte) ParseResult {
	var env finixEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return malformed("невалидный JSON: " + err.Error())
	}

	env.ID = strings.TrimSpace(env.ID)
	env.Entity = strings.TrimSpace(env.Entity)
	switch {
	case env.ID == "":
		return malformed("нет поля id")
	case env.Entity == "":
		return malformed("нет поля entity")
	case strings.TrimSpace(env.Type) == "":
		return malformed("нет поля type")
	}

	event := &ParsedEvent{
		ID:     env.ID,
		Type:   strings.TrimSpace(env.Type),
		Entity: env.Entity,
	}

	switch {
	case len(event.ID) > domain.MaxExternalIDLength:
		return tooLong("id", domain.MaxExternalIDLength)
	case len(event.Entity) > domain.MaxEventKindLength:
		return tooLong("entity", domain.MaxEventKindLength)
	case len(event.Type) > domain.MaxEventKindLength:
		return tooLong("type", domain.MaxEventKindLength)
	}

	if env.Embedded != nil {
		if len(env.Embedded.PaymentLinks) > 0 {
			link := env.Embedded.PaymentLinks[0]
			if link.ID == "" || link.State == "" {
				return malformed("payment_link без id или state")
			}
			if len(link.ID) > domain.MaxExternalIDLength {
				return tooLong("payment_link.id", domain.MaxExternalIDLength)
			}
			event.Link = &link
		}
		if len(env.Embedded.Transfers) > 0 {
			transfer := env.Embedded.Transfers[0]
			if transfer.ID == "" || transfer.State == "" {
				return malformed("transfer без id или state")
			}
			if len(transfer.ID) > domain.MaxExternalIDLength {
				return tooLong("transfer.id", domain.MaxExternalIDLength)
			}
			event.Transfer = &transfer
		}
	}

	return ParseResult{Event: event}
}

// ResourceID возвращает id сущности, о которой сообщает событие.
func (e *ParsedEvent) ResourceID() string {
	switch {
	case e.Entity == domain.EntityPaymentLink && e.Link != nil:
		return e.Link.ID
	case e.Entity == domain.EntityTransfer && e.Transfer != nil:
		return e.Transfer.ID
	}
	return ""
}

// correlationTag достаёт id локального заказа из тегов.
func correlationTag(tags map[string]string) (string, bool) {
	id := strings.TrimSpace(tags[domain.CorrelationTagKey])
	return id, id != ""
}
