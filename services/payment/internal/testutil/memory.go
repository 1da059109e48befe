// Package testutil содержит in-memory реализации хранилищ для тестов.
// Реализации потокобезопасны и повторяют контракт MySQL репозиториев:
// CAS статусов и дедупликацию событий по external_event_id.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"example.com/quickpay/pkg/outbox"
	"example.com/quickpay/services/payment/internal/domain"
	"example.com/quickpay/services/payment/internal/repository"
)

var (
	_ repository.OrderRepository = (*MemoryStore)(nil)
	_ repository.EventLog        = (*MemoryStore)(nil)
)

// MemoryStore — заказы, ссылки, журнал событий и outbox в памяти.
type MemoryStore struct {
	mu sync.Mutex

	orders  map[string]domain.Order
	links   map[string]domain.PaymentLink
	events  []domain.InboundEvent
	byExtID map[string]int64
	outbox  []*outbox.Outbox

	// Ошибки, возвращаемые вместо нормальной работы, если заданы.
	CreateErr        error
	ApplyErr         error
	RecordErr        error
	MarkProcessedErr error

	// BeforeApply вызывается перед CAS без блокировки (для гонок в тестах).
	BeforeApply func(t domain.Transition)
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]domain.Order),
		links:   make(map[string]domain.PaymentLink),
		byExtID: make(map[string]int64),
	}
}

// =============================================================================
// OrderRepository
// =============================================================================

func (s *MemoryStore) CreateWithLink(_ context.Context, order *domain.Order, link *domain.PaymentLink, event *outbox.Outbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.orders[order.ID] = *order
	s.links[link.ID] = *link
	if event != nil {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *MemoryStore) GetLink(_ context.Context, id string) (*domain.PaymentLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok {
		return nil, domain.ErrLinkNotFound
	}
	return &l, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, &o)
	}
	slices.SortFunc(out, func(a, b *domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, t domain.Transition, event *outbox.Outbox) error {
	if s.BeforeApply != nil {
		s.BeforeApply(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ApplyErr != nil {
		return s.ApplyErr
	}

	order, ok := s.orders[t.OrderID]
	if !ok {
		return domain.ErrStaleStatus
	}
	link := s.links[t.OrderID]

	if t.ChangesOrder() && order.Status != t.From {
		return domain.ErrStaleStatus
	}
	if t.ChangesLink() && link.Status != t.LinkFrom {
		return domain.ErrStaleStatus
	}

	if t.ChangesOrder() {
		order.Status = t.To
		order.UpdatedAt = t.At
		s.orders[t.OrderID] = order
	}
	if t.ChangesLink() {
		link.Status = t.LinkTo
		link.UpdatedAt = t.At
		s.links[t.OrderID] = link
	}
	if event != nil {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

// =============================================================================
// EventLog
// =============================================================================

func (s *MemoryStore) Record(_ context.Context, event *domain.InboundEvent) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RecordErr != nil {
		return 0, false, s.RecordErr
	}
	if event.ExternalEventID != nil {
		if id, ok := s.byExtID[*event.ExternalEventID]; ok {
			return id, false, nil
		}
	}

	id := s.appendEvent(event)
	if event.ExternalEventID != nil {
		s.byExtID[*event.ExternalEventID] = id
	}
	return id, true, nil
}

func (s *MemoryStore) RecordInvalid(_ context.Context, event *domain.InboundEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RecordErr != nil {
		return 0, s.RecordErr
	}
	e := *event
	e.ExternalEventID = nil
	return s.appendEvent(&e), nil
}

func (s *MemoryStore) appendEvent(event *domain.InboundEvent) int64 {
	e := *event
	e.ID = int64(len(s.events) + 1)
	e.RawPayload = slices.Clone(event.RawPayload)
	s.events = append(s.events, e)
	event.ID = e.ID
	return e.ID
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MarkProcessedErr != nil {
		return s.MarkProcessedErr
	}
	if id <= 0 || int(id) > len(s.events) {
		return domain.ErrEventNotFound
	}
	now := time.Now().UTC()
	s.events[id-1].Processed = true
	s.events[id-1].ProcessedAt = &now
	return nil
}

func (s *MemoryStore) ListUnprocessed(_ context.Context, limit int) ([]*domain.InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.InboundEvent
	for i := range s.events {
		if s.events[i].Processed {
			continue
		}
		e := s.events[i]
		out = append(out, &e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// Вспомогательные методы для проверок
// =============================================================================

// Events возвращает копию журнала событий.
func (s *MemoryStore) Events() []domain.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Outbox возвращает записанные события outbox.
func (s *MemoryStore) Outbox() []*outbox.Outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outbox)
}

// Link возвращает копию ссылки по id.
func (s *MemoryStore) Link(id string) (domain.PaymentLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	return l, ok
}

// SetOrderStatus меняет статус заказа в обход правил (подготовка теста).
func (s *MemoryStore) SetOrderStatus(id string, status domain.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = status
	s.orders[id] = o
}
