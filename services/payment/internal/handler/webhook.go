package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/services/payment/internal/domain"
)

// WebhookHandler — приём webhook'ов Finix.
type WebhookHandler struct {
	processor    WebhookProcessor
	maxBodyBytes int64
}

// NewWebhookHandler создаёт обработчик webhook'ов.
// maxBodyBytes <= 0 отключает ограничение размера тела.
func NewWebhookHandler(processor WebhookProcessor, maxBodyBytes int64) *WebhookHandler {
	return &WebhookHandler{
		processor:    processor,
		maxBodyBytes: maxBodyBytes,
	}
}

// WebhookResponse — подтверждение получения события.
type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

// Receive принимает событие Finix.
// 200 отдаётся всегда, когда событие сохранено в журнал, даже если его не удалось применить.
// POST /webhooks/finix
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.Ctx(ctx)

	body := c.Request.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxBodyBytes)
	}

	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("Тело webhook'а превышает лимит")
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "Тело запроса слишком большое",
			})
			return
		}
		badRequest(c, "Не удалось прочитать тело запроса")
		return
	}

	result, err := h.processor.HandleWebhook(ctx, payload)
	if err != nil {
		log.Error().Err(err).Msg("Не удалось сохранить webhook событие")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Событие не сохранено, повторите доставку",
		})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Status:  "ok",
		Outcome: string(result.Outcome),
	})
}

// =============================================================================
// Журнал событий для оператора
// =============================================================================

// EventAuditHandler отдаёт необработанные webhook события.
type EventAuditHandler struct {
	events EventAudit
}

// NewEventAuditHandler создаёт обработчик журнала событий.
func NewEventAuditHandler(events EventAudit) *EventAuditHandler {
	return &EventAuditHandler{events: events}
}

// WebhookEventResponse — строка журнала без сырого тела.
type WebhookEventResponse struct {
	ID              int64   `json:"id"`
	ExternalEventID *string `json:"externalEventId,omitempty"`
	EntityType      string  `json:"entityType,omitempty"`
	EventType       string  `json:"eventType,omitempty"`
	ResourceID      string  `json:"resourceId,omitempty"`
	Status          string  `json:"status"`
	Error           *string `json:"error,omitempty"`
	PayloadBytes    int     `json:"payloadBytes"`
	ReceivedAt      string  `json:"receivedAt"`
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// ListUnprocessed возвращает события с processed=false, старые первыми.
// GET /v1/ops/webhook-events?limit=50
func (h *EventAuditHandler) ListUnprocessed(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit должен быть положительным целым числом")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	events, err := h.events.ListUnprocessed(c.Request.Context(), limit)
	if err != nil {
		HandleServiceError(c, err, "ListUnprocessed")
		return
	}

	resp := make([]WebhookEventResponse, len(events))
	for i, ev := range events {
		resp[i] = eventToResponse(ev)
	}

	c.JSON(http.StatusOK, gin.H{"events": resp})
}

func eventToResponse(ev *domain.InboundEvent) WebhookEventResponse {
	return WebhookEventResponse{
		ID:              ev.ID,
		ExternalEventID: ev.ExternalEventID,
		EntityType:      ev.EntityType,
		EventType:       ev.EventType,
		ResourceID:      ev.ResourceID,
		Status:          string(ev.Status),
		Error:           ev.Error,
		PayloadBytes:    len(ev.RawPayload),
		ReceivedAt:      ev.ReceivedAt.UTC().Format(time.RFC3339),
	}
}
