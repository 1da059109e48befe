// Package service — согласование заказов с платёжными ссылками Finix.
//
// Reconciler — единственная точка, через которую меняется статус заказа:
// создание ссылки, webhook события, отмена клиентом и ручная отметка
// в development проходят через один и тот же guarded transition.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/quickpay/pkg/kafka"
	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/pkg/metrics"
	"example.com/quickpay/pkg/outbox"
	"example.com/quickpay/services/payment/internal/domain"
	"example.com/quickpay/services/payment/internal/gateway"
	"example.com/quickpay/services/payment/internal/repository"
)

// =============================================================================
// Конфигурация
// =============================================================================

const (
	// defaultCASAttempts — сколько раз перечитываем заказ после проигранного CAS.
	defaultCASAttempts = 5

	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status_changed"
	deactivateTimeout       = 10 * time.Second
)

// AggregateOrder — aggregate_type записей outbox о заказах.
const AggregateOrder = "order"

// Outcome — итог обработки webhook'а.
type Outcome string

const (
	OutcomeProbe     Outcome = "probe"     // пустое тело, проверка доступности
	OutcomeInvalid   Outcome = "invalid"   // тело сохранено как invalid
	OutcomeDuplicate Outcome = "duplicate" // событие уже было получено
	OutcomeApplied   Outcome = "applied"
	OutcomeNoOp      Outcome = "noop"
	OutcomeRejected  Outcome = "rejected" // запоздалый или регрессирующий сигнал
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed" // событие сохранено, обработка не удалась
)

// WebhookResult — результат HandleWebhook.
type WebhookResult struct {
	Outcome    Outcome
	EventRowID int64
	OrderID    string
}

// CreateResult — результат Create.
type CreateResult struct {
	Order *domain.Order
	Link  *domain.PaymentLink
}

// TransitionResult — результат guarded transition.
type TransitionResult struct {
	Order    *domain.Order
	Link     *domain.PaymentLink
	Decision domain.Decision
	Written  bool // в БД записано изменение заказа или ссылки
}

// Option — функциональная опция Reconciler.
type Option func(*Reconciler)

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator подменяет генератор id заказов (тесты).
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) { r.newID = fn }
}

// WithCASAttempts задаёт число попыток при конкурентных изменениях.
func WithCASAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.casAttempts = n
		}
	}
}

// =============================================================================
// Reconciler
// =============================================================================

// Reconciler — движок согласования статусов заказов.
type Reconciler struct {
	orders  repository.OrderRepository
	events  repository.EventLog
	gateway gateway.Gateway

	now         func() time.Time
	newID       func() string
	casAttempts int
}

// NewReconciler создаёт движок. Все зависимости передаются явно.
func NewReconciler(orders repository.OrderRepository, events repository.EventLog, gw gateway.Gateway, opts ...Option) *Reconciler {
	r := &Reconciler{
		orders:      orders,
		events:      events,
		gateway:     gw,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
		casAttempts: defaultCASAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create создаёт ссылку в Finix и сохраняет заказ со ссылкой.
// При ошибке шлюза локально ничего не сохраняется.
func (r *Reconciler) Create(ctx context.Context, in domain.CreateParams) (*CreateResult, error) {
	params, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	orderID := r.newID()
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Logger()

	link, err := r.gateway.CreateLink(ctx, gateway.CreateLinkRequest{
		OrderID:     orderID,
		AmountMinor: params.AmountMinor,
		Currency:    params.Currency,
		Description: params.Description,
	})
	if err != nil {
		log.Error().Err(err).Msg("Finix не создал платёжную ссылку")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	order := domain.NewOrder(orderID, params, r.now())
	paymentLink := domain.NewPaymentLink(order, link.ExternalID, link.URL)

	record, err := r.newOutboxRecord(ctx, order.ID, eventOrderCreated, orderCreatedPayload{
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Status:      order.Status,
		LinkStatus:  paymentLink.Status,
		OccurredAt:  order.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := r.orders.CreateWithLink(ctx, order, paymentLink, record); err != nil {
		log.Error().Err(err).Str("external_link_id", link.ExternalID).
			Msg("Ошибка сохранения заказа, деактивируем осиротевшую ссылку")
		r.deactivate(ctx, link.ExternalID)
		return nil, fmt.Errorf("ошибка сохранения заказа: %w", err)
	}

	log.Info().
		Int64("amount", order.AmountMinor).
		Str("currency", order.Currency).
		Str("external_link_id", link.ExternalID).
		Msg("Заказ и платёжная ссылка созданы")

	return &CreateResult{Order: order, Link: paymentLink}, nil
}

// Cancel отменяет незавершённый заказ клиентом.
// После локального коммита ссылка в Finix деактивируется best-effort:
// ошибка шлюза логируется и не влияет на результат.
func (r *Reconciler) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	res, err := r.transition(ctx, orderID,
		domain.Target{Order: domain.OrderStatusFailed, Link: domain.LinkStatusCancelled},
		domain.SourceClientCancel,
	)
	if err != nil {
		return nil, err
	}
	if res.Decision != domain.DecisionApply {
		return nil, domain.ErrOrderTerminal
	}

	if res.Link.ExternalLinkID != nil {
		r.deactivate(ctx, *res.Link.ExternalLinkID)
	}

	return res.Order, nil
}

// MarkStatus — ручной перевод заказа (только development).
// Проходит через те же правила переходов, что и webhook.
func (r *Reconciler) MarkStatus(ctx context.Context, orderID, status string) (*TransitionResult, error) {
	target, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, orderID, domain.TargetForStatus(target), domain.SourceManual)
}

// HandleWebhook обрабатывает тело webhook'а Finix.
// Ошибка возвращается только если событие не удалось сохранить в журнал;
// в этом случае отправитель должен повторить доставку.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte) (WebhookResult, error) {
	log := logger.Ctx(ctx)

	if len(bytes.TrimSpace(body)) == 0 {
		log.Debug().Msg("Пустой webhook, проверка доступности")
		metrics.RecordWebhookEvent("", string(OutcomeProbe))
		return WebhookResult{Outcome: OutcomeProbe}, nil
	}

	receivedAt := r.now()
	parsed := ParseEvent(body)

	if parsed.Malformed != nil {
		rowID, err := r.events.RecordInvalid(ctx, domain.NewInvalidEvent(body, parsed.Malformed.Reason, receivedAt))
		if err != nil {
			return WebhookResult{}, err
		}
		log.Warn().
			Int64("event_row_id", rowID).
			Str("reason", parsed.Malformed.Reason).
			Msg("Невалидный webhook сохранён для разбора")
		metrics.RecordWebhookEvent("", string(OutcomeInvalid))
		return WebhookResult{Outcome: OutcomeInvalid, EventRowID: rowID}, nil
	}

	ev := parsed.Event
	evLog := log.With().
		Str("event_id", ev.ID).
		Str("entity", ev.Entity).
		Str("type", ev.Type).
		Logger()

	rowID, isNew, err := r.events.Record(ctx, domain.NewReceivedEvent(ev.ID, ev.Entity, ev.Type, ev.ResourceID(), body, receivedAt))
	if err != nil {
		return WebhookResult{}, err
	}
	if !isNew {
		evLog.Info().Int64("event_row_id", rowID).Msg("Повторная доставка события, пропускаем")
		metrics.RecordWebhookEvent(ev.Entity, string(OutcomeDuplicate))
		return WebhookResult{Outcome: OutcomeDuplicate, EventRowID: rowID}, nil
	}

	result, err := r.dispatch(logger.WithLogger(ctx, evLog), ev)
	result.EventRowID = rowID
	if err != nil {
		// строка остаётся processed=false для разбора оператором
		evLog.Error().Err(err).Int64("event_row_id", rowID).Msg("Ошибка обработки webhook события")
		result.Outcome = OutcomeFailed
		metrics.RecordWebhookEvent(ev.Entity, string(OutcomeFailed))
		return result, nil
	}

	if err := r.events.MarkProcessed(ctx, rowID); err != nil {
		evLog.Error().Err(err).Int64("event_row_id", rowID).Msg("Не удалось отметить событие обработанным")
	}

	evLog.Info().
		Str("order_id", result.OrderID).
		Str("outcome", string(result.Outcome)).
		Msg("Webhook событие обработано")
	metrics.RecordWebhookEvent(ev.Entity, string(result.Outcome))

	return result, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *ParsedEvent) (WebhookResult, error) {
	log := logger.Ctx(ctx)

	switch ev.Entity {
	case domain.EntityPaymentLink:
		if ev.Link == nil {
			log.Warn().Msg("В событии нет payment_links")
			return WebhookResult{Outcome: OutcomeIgnored}, nil
		}
		orderID, ok := correlationTag(ev.Link.Tags)
		if !ok {
			log.Warn().Str("link_id", ev.Link.ID).Msg("У ссылки нет тега order_id, заказ не найти")
			return WebhookResult{Outcome: OutcomeIgnored}, nil
		}
		target, ok := domain.MapLinkState(ev.Link.State)
		if !ok {
			log.Info().Str("state", ev.Link.State).Msg("Необрабатываемое состояние payment_link")
			return WebhookResult{Outcome: OutcomeIgnored, OrderID: orderID}, nil
		}
		return r.applyWebhook(ctx, orderID, target)

	case domain.EntityTransfer:
		if ev.Transfer == nil {
			return WebhookResult{Outcome: OutcomeIgnored}, nil
		}
		log.Info().
			Str("transfer_id", ev.Transfer.ID).
			Str("state", ev.Transfer.State).
			Str("amount", ev.Transfer.Amount.String()).
			Str("currency", ev.Transfer.Currency).
			Msg("Получен transfer")

		orderID, ok := correlationTag(ev.Transfer.Tags)
		if !ok {
			return WebhookResult{Outcome: OutcomeIgnored}, nil
		}
		target, ok := domain.MapTransferState(ev.Transfer.State)
		if !ok {
			return WebhookResult{Outcome: OutcomeIgnored, OrderID: orderID}, nil
		}
		return r.applyWebhook(ctx, orderID, target)
	}

	log.Info().Msg("Неизвестный тип сущности, пропускаем")
	return WebhookResult{Outcome: OutcomeIgnored}, nil
}

func (r *Reconciler) applyWebhook(ctx context.Context, orderID string, target domain.Target) (WebhookResult, error) {
	res, err := r.transition(ctx, orderID, target, domain.SourceWebhook)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("Событие для неизвестного заказа")
		return WebhookResult{Outcome: OutcomeIgnored, OrderID: orderID}, nil
	}
	if err != nil {
		return WebhookResult{OrderID: orderID}, err
	}

	out := WebhookResult{OrderID: orderID}
	switch {
	case res.Written:
		out.Outcome = OutcomeApplied
	case res.Decision == domain.DecisionReject:
		out.Outcome = OutcomeRejected
	default:
		out.Outcome = OutcomeNoOp
	}
	return out, nil
}

// =============================================================================
// Guarded transition
// =============================================================================

// transition применяет целевые статусы с проверкой правил переходов.
// Rejected и NoOp не являются ошибками. При проигранном CAS заказ
// перечитывается и решение принимается заново.
func (r *Reconciler) transition(ctx context.Context, orderID string, target domain.Target, source string) (*TransitionResult, error) {
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Str("source", source).Logger()

	for attempt := 1; attempt <= r.casAttempts; attempt++ {
		order, err := r.orders.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		link, err := r.orders.GetLink(ctx, order.LinkID)
		if err != nil {
			return nil, err
		}

		decision := domain.Decide(order.Status, target.Order)
		if decision == domain.DecisionApply && link.Status.IsTerminal() {
			decision = domain.DecisionReject
		}

		t := domain.Transition{
			OrderID:  order.ID,
			From:     order.Status,
			To:       order.Status,
			LinkFrom: link.Status,
			Source:   source,
			At:       r.now(),
		}

		switch decision {
		case domain.DecisionApply:
			t.To = target.Order
			if target.Link != "" && link.Status.CanAdvanceTo(target.Link) {
				t.LinkTo = target.Link
			}
		case domain.DecisionNoOp:
			// статус заказа уже тот же, но ссылка может отставать (pending → created)
			if !order.Status.IsTerminal() && target.Link != "" && link.Status.CanAdvanceTo(target.Link) {
				t.LinkTo = target.Link
			}
		case domain.DecisionReject:
			log.Info().
				Str("current", string(order.Status)).
				Str("requested", string(target.Order)).
				Msg("Переход отклонён")
			return &TransitionResult{Order: order, Link: link, Decision: decision}, nil
		}

		if !t.ChangesOrder() && !t.ChangesLink() {
			return &TransitionResult{Order: order, Link: link, Decision: decision}, nil
		}

		var record *outbox.Outbox
		if t.ChangesOrder() {
			record, err = r.newOutboxRecord(ctx, order.ID, eventOrderStatusChanged, statusChangedPayload{
				OrderID:    order.ID,
				From:       t.From,
				To:         t.To,
				LinkStatus: linkStatusAfter(t),
				Source:     source,
				OccurredAt: t.At,
			})
			if err != nil {
				return nil, err
			}
		}

		err = r.orders.ApplyTransition(ctx, t, record)
		if errors.Is(err, domain.ErrStaleStatus) {
			log.Debug().Int("attempt", attempt).Msg("Статус изменился параллельно, перечитываем")
			continue
		}
		if err != nil {
			return nil, err
		}

		if t.ChangesOrder() {
			metrics.RecordTransition(string(t.From), string(t.To), source)
			log.Info().
				Str("from", string(t.From)).
				Str("to", string(t.To)).
				Str("link_status", string(linkStatusAfter(t))).
				Msg("Статус заказа изменён")
		} else {
			log.Info().
				Str("link_from", string(t.LinkFrom)).
				Str("link_to", string(t.LinkTo)).
				Msg("Статус ссылки изменён")
		}

		order.Status = t.To
		order.UpdatedAt = t.At
		if t.ChangesLink() {
			link.Status = t.LinkTo
			link.UpdatedAt = t.At
		}
		return &TransitionResult{Order: order, Link: link, Decision: decision, Written: true}, nil
	}

	log.Error().Int("attempts", r.casAttempts).Msg("Не удалось применить переход")
	return nil, domain.ErrConcurrentUpdate
}

func linkStatusAfter(t domain.Transition) domain.LinkStatus {
	if t.ChangesLink() {
		return t.LinkTo
	}
	return t.LinkFrom
}

// deactivate — best-effort деактивация ссылки в Finix.
// Отмена запроса клиентом не должна обрывать вызов шлюза.
func (r *Reconciler) deactivate(ctx context.Context, externalID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deactivateTimeout)
	defer cancel()

	log := logger.Ctx(ctx).With().Str("external_link_id", externalID).Logger()
	if err := r.gateway.DeactivateLink(ctx, externalID); err != nil {
		log.Warn().Err(err).Msg("Не удалось деактивировать ссылку в Finix")
		return
	}
	log.Info().Msg("Ссылка в Finix деактивирована")
}

// =============================================================================
// События outbox
// =============================================================================

type orderCreatedPayload struct {
	OrderID     string             `json:"order_id"`
	AmountMinor int64              `json:"amount_minor"`
	Currency    string             `json:"currency"`
	Status      domain.OrderStatus `json:"status"`
	LinkStatus  domain.LinkStatus  `json:"link_status"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

type statusChangedPayload struct {
	OrderID    string             `json:"order_id"`
	From       domain.OrderStatus `json:"from"`
	To         domain.OrderStatus `json:"to"`
	LinkStatus domain.LinkStatus  `json:"link_status"`
	Source     string             `json:"source"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func (r *Reconciler) newOutboxRecord(ctx context.Context, orderID, eventType string, payload any) (*outbox.Outbox, error) {
	headers := map[string]string{
		kafka.HeaderEventType: eventType,
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	return outbox.NewRecord(AggregateOrder, orderID, eventType, kafka.TopicOrderEvents, payload, headers)
}
