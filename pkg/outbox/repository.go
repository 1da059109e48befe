package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// cleanupBatchSize ограничивает DELETE, чтобы не держать долгие блокировки.
const cleanupBatchSize = 1000

// Repository — чтение и пометка записей outbox для OutboxWorker.
type Repository interface {
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	MarkDeadLettered(ctx context.Context, id string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация, ограниченная одним aggregate_type.
type repository struct {
	db            *gorm.DB
	aggregateType string
}

// NewRepository создаёт репозиторий outbox для aggregateType.
func NewRepository(db *gorm.DB, aggregateType string) Repository {
	return &repository{db: db, aggregateType: aggregateType}
}

// GetUnprocessed возвращает неотправленные записи; записи с большим retry_count идут позже.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []OutboxModel

	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// MarkProcessed помечает запись отправленной.
func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// MarkFailed увеличивает retry_count и сохраняет текст ошибки.
func (r *repository) MarkFailed(ctx context.Context, id string, err error) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// MarkDeadLettered выводит запись из очереди после переноса в DLQ.
// Строка остаётся в таблице до очистки, dead_lettered_at отличает её от отправленных.
func (r *repository) MarkDeadLettered(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{
			"processed_at":     now,
			"dead_lettered_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет отправленные записи старше before (пачкой).
// Dead letters не удаляются: их разбирает оператор.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ? AND dead_lettered_at IS NULL AND aggregate_type = ?",
			before, r.aggregateType).
		Limit(cleanupBatchSize).
		Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
