package outbox

import (
	"context"
	"errors"
	"time"

	"example.com/quickpay/pkg/kafka"
	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/pkg/metrics"
)

// Метка result метрики outbox_records_total.
const (
	resultPublished    = "published"
	resultFailed       = "failed"
	resultDeadLettered = "dead_lettered"
)

// Publisher — то, что OutboxWorker требует от kafka.Producer.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, original *kafka.Message, cause error) error
}

// WorkerConfig — настройки OutboxWorker.
type WorkerConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int // после превышения запись уходит в DLQ
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
}

// DefaultWorkerConfig возвращает настройки по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// OutboxWorker публикует записи outbox в Kafka.
type OutboxWorker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
}

// NewOutboxWorker создаёт OutboxWorker.
func NewOutboxWorker(repo Repository, publisher Publisher, cfg WorkerConfig) *OutboxWorker {
	return &OutboxWorker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены контекста.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *OutboxWorker) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-w.cfg.CleanupRetention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Удалены отправленные записи outbox")
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	metrics.SetOutboxLag(oldestAge(records, time.Now()))

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			w.deadLetter(ctx, record)
			continue
		}

		_ = w.Publish(ctx, record)
	}
}

// deadLetter перекладывает запись в DLQ и выводит её из очереди.
// Если DLQ тоже недоступна, запись остаётся и будет повторена на следующем тике.
func (w *OutboxWorker) deadLetter(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx).With().
		Str("outbox_id", record.ID).
		Str("order_id", record.AggregateID).
		Str("event_type", record.EventType).
		Int("retry_count", record.RetryCount).
		Logger()

	cause := "превышен лимит попыток"
	if record.LastError != nil {
		cause = *record.LastError
	}

	if err := w.publisher.SendToDLQ(ctx, toMessage(record), errors.New(cause)); err != nil {
		log.Error().Err(err).Msg("Ошибка отправки в DLQ")
		return
	}

	if err := w.repo.MarkDeadLettered(ctx, record.ID); err != nil {
		log.Error().Err(err).Msg("Ошибка пометки dead letter")
		return
	}

	metrics.RecordOutbox(resultDeadLettered)
	log.Warn().Msg("Dead letter: запись outbox перемещена в DLQ")
}

// Publish отправляет одну запись и помечает результат в outbox.
func (w *OutboxWorker) Publish(ctx context.Context, record *Outbox) error {
	log := logger.FromContext(ctx)

	if err := w.publisher.SendMessage(ctx, toMessage(record)); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Str("topic", record.Topic).Msg("Ошибка отправки в Kafka")

		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		metrics.RecordOutbox(resultFailed)
		return err
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как отправленной")
		return err
	}

	metrics.RecordOutbox(resultPublished)
	log.Debug().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Msg("Событие заказа опубликовано")
	return nil
}

// oldestAge — возраст самой старой записи пачки; пачка отсортирована не по времени.
func oldestAge(records []*Outbox, now time.Time) time.Duration {
	var oldest time.Time
	for _, r := range records {
		if oldest.IsZero() || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}

func toMessage(record *Outbox) *kafka.Message {
	headers := make(map[string]string, len(record.Headers)+1)
	for k, v := range record.Headers {
		headers[k] = v
	}
	headers[kafka.HeaderEventType] = record.EventType

	return &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: headers,
		Time:    record.CreatedAt,
	}
}
