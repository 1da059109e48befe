package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/quickpay/pkg/kafka"
)

// =============================================================================
// Моки
// =============================================================================

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Outbox), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *mockRepository) MarkDeadLettered(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockPublisher) SendToDLQ(ctx context.Context, msg *kafka.Message, cause error) error {
	return m.Called(ctx, msg, cause).Error(0)
}

func testConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.BatchSize = 10
	cfg.MaxRetries = 3
	return cfg
}

// =============================================================================
// Тесты
// =============================================================================

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("order", "order-1", "order.created", kafka.TopicOrderEvents,
		map[string]any{"order_id": "order-1", "status": "CREATED"},
		map[string]string{kafka.HeaderTraceID: "trace-1"},
	)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "order-1", rec.MessageKey)
	assert.JSONEq(t, `{"order_id":"order-1","status":"CREATED"}`, string(rec.Payload))

	model := ModelFromDomain(rec)
	back := model.ToDomain()
	assert.Equal(t, "trace-1", back.Headers[kafka.HeaderTraceID])
}

func TestOutboxWorker_Publish_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	worker := NewOutboxWorker(repo, publisher, testConfig())

	record := &Outbox{
		ID:         "outbox-1",
		EventType:  "order.status_changed",
		Topic:      kafka.TopicOrderEvents,
		MessageKey: "order-1",
		Payload:    []byte(`{"to":"CAPTURED"}`),
	}

	publisher.On("SendMessage", ctx, mock.MatchedBy(func(msg *kafka.Message) bool {
		return string(msg.Key) == "order-1" && msg.Headers[kafka.HeaderEventType] == "order.status_changed"
	})).Return(nil)
	repo.On("MarkProcessed", ctx, "outbox-1").Return(nil)

	require.NoError(t, worker.Publish(ctx, record))

	publisher.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestOutboxWorker_Publish_SendError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	worker := NewOutboxWorker(repo, publisher, testConfig())

	sendErr := errors.New("kafka unavailable")
	publisher.On("SendMessage", ctx, mock.Anything).Return(sendErr)
	repo.On("MarkFailed", ctx, "outbox-1", sendErr).Return(nil)

	err := worker.Publish(ctx, &Outbox{ID: "outbox-1", Topic: kafka.TopicOrderEvents})

	assert.ErrorIs(t, err, sendErr)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_DeadLetterGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	cfg := testConfig()
	worker := NewOutboxWorker(repo, publisher, cfg)

	lastErr := "broker not available"
	dead := &Outbox{
		ID:          "outbox-dead",
		AggregateID: "order-9",
		EventType:   "order.status_changed",
		Topic:       kafka.TopicOrderEvents,
		MessageKey:  "order-9",
		Payload:     []byte(`{}`),
		RetryCount:  5,
		LastError:   &lastErr,
	}

	repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return([]*Outbox{dead}, nil)
	publisher.On("SendToDLQ", ctx, mock.Anything, mock.MatchedBy(func(err error) bool {
		return err.Error() == lastErr
	})).Return(nil)
	repo.On("MarkDeadLettered", ctx, "outbox-dead").Return(nil)

	worker.processBatch(ctx)

	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
	publisher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_DLQFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	cfg := testConfig()
	worker := NewOutboxWorker(repo, publisher, cfg)

	dead := &Outbox{ID: "outbox-dead", RetryCount: 3}

	repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return([]*Outbox{dead}, nil)
	publisher.On("SendToDLQ", ctx, mock.Anything, mock.Anything).Return(errors.New("dlq down"))

	worker.processBatch(ctx)

	repo.AssertNotCalled(t, "MarkDeadLettered", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_Multiple(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	cfg := testConfig()
	worker := NewOutboxWorker(repo, publisher, cfg)

	records := []*Outbox{
		{ID: "outbox-1", Topic: kafka.TopicOrderEvents, MessageKey: "order-1", Payload: []byte(`{}`)},
		{ID: "outbox-2", Topic: kafka.TopicOrderEvents, MessageKey: "order-2", Payload: []byte(`{}`)},
	}

	repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return(records, nil)
	publisher.On("SendMessage", ctx, mock.Anything).Return(nil).Times(2)
	repo.On("MarkProcessed", ctx, "outbox-1").Return(nil)
	repo.On("MarkProcessed", ctx, "outbox-2").Return(nil)

	worker.processBatch(ctx)

	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOldestAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, oldestAge(nil, now))

	records := []*Outbox{
		{ID: "a", RetryCount: 0, CreatedAt: now.Add(-2 * time.Second)},
		{ID: "b", RetryCount: 2, CreatedAt: now.Add(-time.Minute)},
	}
	assert.Equal(t, time.Minute, oldestAge(records, now))
}

func TestOutboxWorker_Run_StopsOnCancel(t *testing.T) {
	repo := new(mockRepository)
	publisher := new(mockPublisher)
	cfg := testConfig()
	worker := NewOutboxWorker(repo, publisher, cfg)

	repo.On("GetUnprocessed", mock.Anything, cfg.BatchSize).Return([]*Outbox{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker не остановился после отмены context")
	}
}
