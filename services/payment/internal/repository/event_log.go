package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/quickpay/services/payment/internal/domain"
)

// EventLog — журнал входящих webhook событий (append-only, с дедупликацией).
type EventLog interface {
	// Record вставляет событие. Дубликат external_event_id определяется самим
	// INSERT'ом по уникальному индексу: isNew=false и id существующей строки.
	Record(ctx context.Context, event *domain.InboundEvent) (id int64, isNew bool, err error)

	// RecordInvalid сохраняет неразобранное тело со статусом invalid.
	RecordInvalid(ctx context.Context, event *domain.InboundEvent) (int64, error)

	// MarkProcessed отмечает, что бизнес-логика для события выполнена.
	MarkProcessed(ctx context.Context, id int64) error

	// ListUnprocessed возвращает строки с processed=false, старые первыми.
	ListUnprocessed(ctx context.Context, limit int) ([]*domain.InboundEvent, error)
}

type eventLog struct {
	db *gorm.DB
}

// NewEventLog создаёт журнал webhook событий.
func NewEventLog(db *gorm.DB) EventLog {
	return &eventLog{db: db}
}

func (r *eventLog) Record(ctx context.Context, event *domain.InboundEvent) (int64, bool, error) {
	model := eventModelFromDomain(event)

	err := r.db.WithContext(ctx).Create(model).Error
	if err == nil {
		event.ID = model.ID
		return model.ID, true, nil
	}

	if !isDuplicateKeyError(err) {
		return 0, false, fmt.Errorf("ошибка записи webhook события: %w", err)
	}

	var existing WebhookEventModel
	if err := r.db.WithContext(ctx).
		Select("id").
		Where("external_event_id = ?", event.ExternalEventID).
		Take(&existing).Error; err != nil {
		return 0, false, fmt.Errorf("ошибка поиска дубликата webhook события: %w", err)
	}

	event.ID = existing.ID
	return existing.ID, false, nil
}

func (r *eventLog) RecordInvalid(ctx context.Context, event *domain.InboundEvent) (int64, error) {
	model := eventModelFromDomain(event)
	model.ExternalEventID = nil
	model.Processed = false

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return 0, fmt.Errorf("ошибка записи невалидного webhook события: %w", err)
	}

	event.ID = model.ID
	return model.ID, nil
}

func (r *eventLog) MarkProcessed(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ошибка пометки webhook события: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *eventLog) ListUnprocessed(ctx context.Context, limit int) ([]*domain.InboundEvent, error) {
	var models []WebhookEventModel

	if err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*domain.InboundEvent, len(models))
	for i := range models {
		events[i] = models[i].toDomain()
	}
	return events, nil
}
