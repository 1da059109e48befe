package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/quickpay/pkg/logger"
	"example.com/quickpay/services/payment/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleServiceError преобразует ошибку сервисного слоя в HTTP ответ.
// ВАЖНО: err не должен быть nil — это баг в вызывающем коде.
func HandleServiceError(c *gin.Context, err error, method string) {
	log := logger.Ctx(c.Request.Context())

	if err == nil {
		log.Error().Str("method", method).Msg("HandleServiceError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	var (
		httpStatus int
		errorCode  string
		message    = err.Error()
	)

	switch {
	case domain.IsValidation(err):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_request"
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrLinkNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrOrderTerminal):
		httpStatus = http.StatusConflict
		errorCode = "order_terminal"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		// Детали ответа Finix остаются в логах
		httpStatus = http.StatusBadGateway
		errorCode = "gateway_unavailable"
		message = domain.ErrGatewayUnavailable.Error()
		log.Warn().Err(err).Str("method", method).Msg("Платёжный шлюз недоступен")
	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		message = "Внутренняя ошибка сервера"
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
