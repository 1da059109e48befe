// Package kafka — публикация доменных событий заказов в Kafka через kafka-go.
// Сообщения пишет только Outbox Worker; сервис ничего не потребляет из Kafka.
package kafka

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/quickpay/pkg/logger"
)

// Топики сервиса.
const (
	// TopicOrderEvents — события жизненного цикла заказов (order.created, order.status_changed).
	// Ключ сообщения — id заказа, поэтому события одного заказа попадают в одну партицию.
	TopicOrderEvents = "payment.order.events"

	// TopicDLQ — сообщения, которые не удалось доставить после всех попыток.
	TopicDLQ = "dlq.payment.order.events"
)

// Ключи headers.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"
)

// Config — настройки подключения к Kafka.
type Config struct {
	Brokers []string
}

// Message — сообщение для отправки.
type Message struct {
	Key     []byte
	Value   []byte
	Topic   string
	Headers map[string]string
	Time    time.Time
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    ts,
	}
}

// TopicSpecs — топики, которые сервис создаёт при старте.
func TopicSpecs() []kafka.TopicConfig {
	return []kafka.TopicConfig{
		{Topic: TopicOrderEvents, NumPartitions: 3, ReplicationFactor: 1},
		{Topic: TopicDLQ, NumPartitions: 1, ReplicationFactor: 1},
	}
}

// EnsureTopics создаёт недостающие топики через контроллер кластера.
// Уже существующие топики kafka-go пропускает без ошибки.
func EnsureTopics(ctx context.Context, brokers []string, topics []kafka.TopicConfig) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}

	ctrlConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(topics...); err != nil {
		return err
	}

	logger.Info().Int("count", len(topics)).Msg("Топики Kafka проверены")
	return nil
}
