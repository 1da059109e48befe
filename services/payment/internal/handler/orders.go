package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/services/payment/internal/domain"
	"example.com/quickpay/services/payment/internal/service"
)

// OrderHandler — обработчик платёжных ссылок и заказов.
type OrderHandler struct {
	links  LinkService
	orders OrderReader
}

// NewOrderHandler создаёт обработчик заказов.
func NewOrderHandler(links LinkService, orders OrderReader) *OrderHandler {
	return &OrderHandler{
		links:  links,
		orders: orders,
	}
}

// === Request/Response DTOs ===

// CreateLinkRequest — запрос на создание платёжной ссылки.
// Форма проверяется здесь, нормализация и доменные правила — в domain.CreateParams.Normalize.
type CreateLinkRequest struct {
	AmountCents int64   `json:"amountCents" binding:"required,min=1"`
	Currency    string  `json:"currency" binding:"required,len=3,alpha"`
	Description *string `json:"description" binding:"omitempty,max=255"`
	Note        *string `json:"note" binding:"omitempty,max=255"`
}

// CreateLinkResponse — ответ на создание ссылки. Status — начальный статус заказа.
type CreateLinkResponse struct {
	OrderID     string `json:"orderId"`
	CheckoutURL string `json:"checkoutUrl"`
	Status      string `json:"status"`
}

// OrderResponse — заказ в ответе polling клиенту.
type OrderResponse struct {
	ID          string  `json:"id"`
	LinkID      string  `json:"linkId"`
	Status      string  `json:"status"`
	AmountCents int64   `json:"amountCents"`
	Currency    string  `json:"currency"`
	Description *string `json:"description,omitempty"`
	Note        *string `json:"note,omitempty"`
	CheckoutURL *string `json:"checkoutUrl,omitempty"`
	LinkStatus  string  `json:"linkStatus,omitempty"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

// ListOrdersResponse — ответ на запрос списка заказов.
type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Count  int             `json:"count"`
}

// MarkStatusResponse — результат ручного перевода заказа.
type MarkStatusResponse struct {
	Order    OrderResponse `json:"order"`
	Decision string        `json:"decision"`
	Written  bool          `json:"written"`
}

// === Handlers ===

// CreateLink создаёт ссылку на оплату и парный заказ.
// POST /v1/links
func (h *OrderHandler) CreateLink(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.Ctx(ctx)

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание ссылки")
		badRequest(c, "Невалидные данные запроса")
		return
	}

	result, err := h.links.Create(ctx, domain.CreateParams{
		AmountMinor: req.AmountCents,
		Currency:    req.Currency,
		Description: req.Description,
		Note:        req.Note,
	})
	if err != nil {
		HandleServiceError(c, err, "CreateLink")
		return
	}

	resp := CreateLinkResponse{
		OrderID: result.Order.ID,
		Status:  string(result.Order.Status),
	}
	if result.Link.CheckoutURL != nil {
		resp.CheckoutURL = *result.Link.CheckoutURL
	}

	c.JSON(http.StatusCreated, resp)
}

// ListOrders возвращает последние заказы.
// GET /v1/orders?limit=20
func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit должен быть целым числом")
			return
		}
		limit = n
	}

	orders, err := h.orders.List(ctx, limit)
	if err != nil {
		HandleServiceError(c, err, "ListOrders")
		return
	}

	resp := ListOrdersResponse{
		Orders: make([]OrderResponse, len(orders)),
		Count:  len(orders),
	}
	for i, o := range orders {
		resp.Orders[i] = orderToResponse(o)
	}

	c.JSON(http.StatusOK, resp)
}

// GetOrder возвращает заказ со статусом ссылки. Клиент опрашивает его до финального статуса.
// GET /v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")

	view, err := h.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		HandleServiceError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, viewToResponse(view))
}

// CancelOrder отменяет заказ и деактивирует ссылку в Finix.
// POST /v1/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	order, err := h.links.Cancel(ctx, orderID)
	if err != nil {
		HandleServiceError(c, err, "CancelOrder")
		return
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("Заказ отменён клиентом")
	c.JSON(http.StatusOK, orderToResponse(order))
}

// MarkStatus вручную переводит заказ в указанный статус (только development).
// POST /v1/dev/orders/:id/mark?status=CAPTURED
func (h *OrderHandler) MarkStatus(c *gin.Context) {
	status := c.DefaultQuery("status", string(domain.OrderStatusCaptured))

	result, err := h.links.MarkStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		HandleServiceError(c, err, "MarkStatus")
		return
	}

	c.JSON(http.StatusOK, MarkStatusResponse{
		Order:    orderToResponse(result.Order),
		Decision: result.Decision.String(),
		Written:  result.Written,
	})
}

// orderToResponse конвертирует заказ без данных ссылки.
func orderToResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		LinkID:      o.LinkID,
		Status:      string(o.Status),
		AmountCents: o.AmountMinor,
		Currency:    o.Currency,
		Description: o.Description,
		Note:        o.Note,
		CreatedAt:   o.CreatedAt.Unix(),
		UpdatedAt:   o.UpdatedAt.Unix(),
	}
}

func viewToResponse(v *service.OrderView) OrderResponse {
	resp := orderToResponse(v.Order)
	resp.CheckoutURL = v.CheckoutURL
	resp.LinkStatus = string(v.LinkStatus)
	return resp
}
