package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/quickpay/pkg/circuitbreaker"
	"example.com/quickpay/pkg/config"
)

func testFinixConfig(baseURL string) config.FinixConfig {
	return config.FinixConfig{
		BaseURL:       baseURL,
		Username:      "USxxx",
		Password:      "secret",
		MerchantID:    "MU123",
		ApplicationID: "AP456",
		TermsURL:      "https://shop.example/terms",
		APIVersion:    "2022-02-01",
		Timeout:       2 * time.Second,
	}
}

func TestFinixClient_CreateLink(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_links", r.URL.Path)
		assert.Equal(t, "2022-02-01", r.Header.Get("Finix-Version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "USxxx", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"PLabc","link_url":"https://pay.finix/PLabc","state":"ACTIVE","merchant_id":"MU123"}`))
	}))
	defer srv.Close()

	client := NewFinixClient(testFinixConfig(srv.URL), WithHTTPClient(srv.Client()))
	desc := "Кофе"

	link, err := client.CreateLink(context.Background(), CreateLinkRequest{
		OrderID:     "order-1",
		AmountMinor: 1500,
		Currency:    "USD",
		Description: &desc,
	})

	require.NoError(t, err)
	assert.Equal(t, "PLabc", link.ExternalID)
	assert.Equal(t, "https://pay.finix/PLabc", link.URL)
	assert.Equal(t, StateActive, link.State)

	assert.Equal(t, "MU123", captured["merchant_id"])
	assert.Equal(t, "AP456", captured["application_id"])
	assert.Equal(t, "ONE_TIME", captured["payment_frequency"])
	assert.Equal(t, false, captured["is_multiple_use"])
	assert.Equal(t, []any{"PAYMENT_CARD"}, captured["allowed_payment_methods"])
	assert.Equal(t, map[string]any{"order_id": "order-1"}, captured["tags"])

	amount := captured["amount_details"].(map[string]any)
	assert.Equal(t, "FIXED", amount["amount_type"])
	assert.Equal(t, float64(1500), amount["total_amount"])
	assert.Equal(t, "USD", amount["currency"])
}

func TestFinixClient_CreateLink_ClientErrorDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid currency"}`))
	}))
	defer srv.Close()

	client := NewFinixClient(testFinixConfig(srv.URL),
		WithHTTPClient(srv.Client()),
		WithBreakerSettings(circuitbreaker.Settings{
			MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
			FailureRatio: 0.5, MinRequests: 2,
		}),
	)

	for i := 0; i < 3; i++ {
		_, err := client.CreateLink(context.Background(), CreateLinkRequest{OrderID: "o", AmountMinor: 1, Currency: "XXX"})

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "invalid currency")
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFinixClient_ServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewFinixClient(testFinixConfig(srv.URL),
		WithHTTPClient(srv.Client()),
		WithBreakerSettings(circuitbreaker.Settings{
			MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
			FailureRatio: 0.5, MinRequests: 2,
		}),
	)

	req := CreateLinkRequest{OrderID: "o", AmountMinor: 1, Currency: "USD"}
	_, err := client.CreateLink(context.Background(), req)
	assert.Error(t, err)
	_, err = client.CreateLink(context.Background(), req)
	assert.Error(t, err)

	_, err = client.CreateLink(context.Background(), req)
	assert.ErrorIs(t, err, circuitbreaker.ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "открытый breaker не должен пропускать запросы")
}

func TestFinixClient_CreateLink_MissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"PLabc","state":"ACTIVE"}`))
	}))
	defer srv.Close()

	client := NewFinixClient(testFinixConfig(srv.URL), WithHTTPClient(srv.Client()))
	_, err := client.CreateLink(context.Background(), CreateLinkRequest{OrderID: "o", AmountMinor: 1, Currency: "USD"})

	assert.Error(t, err)
}

func TestFinixClient_DeactivateLink(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/payment_links/PLabc", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"PLabc","state":"DEACTIVATED"}`))
	}))
	defer srv.Close()

	client := NewFinixClient(testFinixConfig(srv.URL), WithHTTPClient(srv.Client()))

	require.NoError(t, client.DeactivateLink(context.Background(), "PLabc"))
	assert.Equal(t, "DEACTIVATED", gotBody["state"])
	assert.Error(t, client.DeactivateLink(context.Background(), ""))
}

func TestCallStatus(t *testing.T) {
	assert.Equal(t, "ok", callStatus(nil))
	assert.Equal(t, "circuit_open", callStatus(circuitbreaker.ErrUnavailable))
	assert.Equal(t, "http_4xx", callStatus(&APIError{StatusCode: 404}))
	assert.Equal(t, "http_5xx", callStatus(&APIError{StatusCode: 503}))
	assert.Equal(t, "error", callStatus(errors.New("dial tcp")))
}

func TestFake(t *testing.T) {
	f := NewFake()

	link, err := f.CreateLink(context.Background(), CreateLinkRequest{OrderID: "o1", AmountMinor: 100, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, StateActive, link.State)
	assert.Contains(t, link.URL, link.ExternalID)
	assert.Equal(t, 1, f.CreatedCount())

	require.NoError(t, f.DeactivateLink(context.Background(), link.ExternalID))
	assert.Equal(t, []string{link.ExternalID}, f.DeactivatedIDs())

	f.CreateErr = errors.New("down")
	_, err = f.CreateLink(context.Background(), CreateLinkRequest{})
	assert.Error(t, err)
}
