package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/quickpay/pkg/circuitbreaker"
	"example.com/quickpay/pkg/config"
	"example.com/quickpay/pkg/metrics"
	"example.com/quickpay/pkg/tracing"
)

const (
	maxResponseBody = 1 << 20
	maxErrorBody    = 512
)

// =============================================================================
// DTO Finix API
// =============================================================================

type amountDetails struct {
	AmountType  string `json:"amount_type"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

type additionalDetails struct {
	TermsOfServiceURL string `json:"terms_of_service_url"`
}

type createLinkBody struct {
	MerchantID            string            `json:"merchant_id"`
	ApplicationID         string            `json:"application_id,omitempty"`
	PaymentFrequency      string            `json:"payment_frequency"`
	IsMultipleUse         bool              `json:"is_multiple_use"`
	AllowedPaymentMethods []string          `json:"allowed_payment_methods"`
	AmountDetails         amountDetails     `json:"amount_details"`
	AdditionalDetails     additionalDetails `json:"additional_details"`
	Nickname              string            `json:"nickname,omitempty"`
	Tags                  map[string]string `json:"tags"`
}

type linkResponse struct {
	ID      string `json:"id"`
	LinkURL string `json:"link_url"`
	State   string `json:"state"`
}

type updateLinkBody struct {
	State string `json:"state"`
}

// =============================================================================
// FinixClient
// =============================================================================

// FinixClient — HTTP клиент Finix Payment Links API.
// Вызовы идут через Circuit Breaker; 4xx не открывают breaker.
type FinixClient struct {
	cfg     config.FinixConfig
	http    *http.Client
	breaker *circuitbreaker.Breaker
	tracer  trace.Tracer
}

// FinixOption — функциональная опция FinixClient.
type FinixOption func(*FinixClient)

// WithHTTPClient подменяет HTTP клиент (тесты).
func WithHTTPClient(c *http.Client) FinixOption {
	return func(f *FinixClient) { f.http = c }
}

// WithBreakerSettings задаёт пороги Circuit Breaker.
func WithBreakerSettings(s circuitbreaker.Settings) FinixOption {
	return func(f *FinixClient) {
		f.breaker = circuitbreaker.New("finix",
			circuitbreaker.WithSettings(s),
			circuitbreaker.WithFailurePredicate(isGatewayFailure),
		)
	}
}

// NewFinixClient создаёт клиент Finix.
func NewFinixClient(cfg config.FinixConfig, opts ...FinixOption) *FinixClient {
	c := &FinixClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New("finix", circuitbreaker.WithFailurePredicate(isGatewayFailure)),
		tracer:  tracing.Tracer("finix"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateLink создаёт одноразовую ссылку на оплату с тегом order_id.
func (c *FinixClient) CreateLink(ctx context.Context, req CreateLinkRequest) (*Link, error) {
	body := createLinkBody{
		MerchantID:            c.cfg.MerchantID,
		ApplicationID:         c.cfg.ApplicationID,
		PaymentFrequency:      "ONE_TIME",
		IsMultipleUse:         false,
		AllowedPaymentMethods: []string{"PAYMENT_CARD"},
		AmountDetails: amountDetails{
			AmountType:  "FIXED",
			TotalAmount: req.AmountMinor,
			Currency:    req.Currency,
		},
		AdditionalDetails: additionalDetails{TermsOfServiceURL: c.cfg.TermsURL},
		Tags:              map[string]string{"order_id": req.OrderID},
	}
	if req.Description != nil {
		body.Nickname = *req.Description
	}

	var resp linkResponse
	if err := c.do(ctx, "create_link", http.MethodPost, "/payment_links", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.LinkURL == "" {
		return nil, errors.New("finix: в ответе нет id или link_url")
	}

	return &Link{
		ExternalID: resp.ID,
		URL:        resp.LinkURL,
		State:      resp.State,
	}, nil
}

// DeactivateLink переводит ссылку в DEACTIVATED.
func (c *FinixClient) DeactivateLink(ctx context.Context, externalID string) error {
	if externalID == "" {
		return errors.New("finix: пустой id ссылки")
	}
	return c.do(ctx, "deactivate_link", http.MethodPut, "/payment_links/"+externalID,
		updateLinkBody{State: StateDeactivated}, nil)
}

func (c *FinixClient) do(ctx context.Context, operation, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "finix."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("finix.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, in, out)
	})
	metrics.RecordGatewayCall(operation, callStatus(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *FinixClient) roundTrip(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("finix: ошибка сериализации запроса: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("finix: ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Finix-Version", c.cfg.APIVersion)
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("finix: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("finix: ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(data)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("finix: ошибка разбора ответа: %w", err)
	}
	return nil
}

// isGatewayFailure — 4xx (кроме 429) это ошибка запроса, а не сбой шлюза.
func isGatewayFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func callStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, circuitbreaker.ErrUnavailable) {
		return "circuit_open"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http_%dxx", apiErr.StatusCode/100)
	}
	return "error"
}
