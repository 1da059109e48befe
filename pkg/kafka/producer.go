package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/quickpay/pkg/logger"
)

// Producer — синхронный writer kafka-go с заполнением служебных headers.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer создаёт Producer.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // ключ = order_id, порядок событий заказа сохраняется
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")

	return &Producer{writer: writer}, nil
}

// SendMessage отправляет сообщение. trace_id и correlation_id из контекста
// добавляются, если не заданы явно.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string, 3)
	}
	if _, ok := msg.Headers[HeaderTraceID]; !ok {
		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			msg.Headers[HeaderTraceID] = traceID
		}
	}
	if _, ok := msg.Headers[HeaderCorrelationID]; !ok {
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			msg.Headers[HeaderCorrelationID] = correlationID
		}
	}
	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// SendToDLQ перекладывает сообщение в DLQ с описанием ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, original *Message, cause error) error {
	headers := make(map[string]string, len(original.Headers)+3)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers["dlq_error"] = cause.Error()
	headers["dlq_original_topic"] = original.Topic
	headers["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return p.SendMessage(ctx, &Message{
		Topic:   TopicDLQ,
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
	})
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
