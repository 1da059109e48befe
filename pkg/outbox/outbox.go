// Package outbox — Transactional Outbox для событий жизненного цикла заказов.
// Событие пишется в таблицу outbox в той же транзакции, что и изменение заказа;
// OutboxWorker отдельно публикует накопленные записи в Kafka (at-least-once).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox — запись, ожидающая публикации.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // "order"
	AggregateID   string            // id заказа
	EventType     string            // order.created / order.status_changed
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ партиционирования
	Payload       []byte            // JSON payload
	Headers       map[string]string // trace_id, correlation_id, event_type
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil — ещё не отправлена
	RetryCount    int
	LastError     *string

	// DeadLetteredAt — момент переноса в DLQ после исчерпания попыток.
	DeadLetteredAt *time.Time
}

// NewRecord сериализует payload и собирает запись с ключом = aggregateID.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Insert пишет запись в рамках переданной транзакции.
func Insert(tx *gorm.DB, record *Outbox) error {
	if err := tx.Create(ModelFromDomain(record)).Error; err != nil {
		return fmt.Errorf("ошибка записи в outbox: %w", err)
	}
	return nil
}

// HeadersJSON возвращает headers в JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON восстанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
