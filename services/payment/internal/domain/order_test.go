package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Тесты конечного автомата
// =============================================================================

func TestDecide(t *testing.T) {
	tests := []struct {
		current   OrderStatus
		requested OrderStatus
		want      Decision
	}{
		{OrderStatusCreated, OrderStatusAuthorized, DecisionApply},
		{OrderStatusCreated, OrderStatusCaptured, DecisionApply},
		{OrderStatusCreated, OrderStatusFailed, DecisionApply},
		{OrderStatusCreated, OrderStatusCreated, DecisionNoOp},

		{OrderStatusAuthorized, OrderStatusCaptured, DecisionApply},
		{OrderStatusAuthorized, OrderStatusFailed, DecisionApply},
		{OrderStatusAuthorized, OrderStatusAuthorized, DecisionNoOp},
		{OrderStatusAuthorized, OrderStatusCreated, DecisionReject},

		{OrderStatusCaptured, OrderStatusFailed, DecisionReject},
		{OrderStatusCaptured, OrderStatusCreated, DecisionReject},
		{OrderStatusCaptured, OrderStatusAuthorized, DecisionReject},
		{OrderStatusCaptured, OrderStatusCaptured, DecisionNoOp},

		{OrderStatusFailed, OrderStatusCaptured, DecisionReject},
		{OrderStatusFailed, OrderStatusCreated, DecisionReject},
		{OrderStatusFailed, OrderStatusAuthorized, DecisionReject},
		{OrderStatusFailed, OrderStatusFailed, DecisionNoOp},
	}

	for _, tt := range tests {
		t.Run(string(tt.current)+"->"+string(tt.requested), func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.current, tt.requested))
		})
	}
}

func TestDecide_TerminalNeverLeaves(t *testing.T) {
	all := []OrderStatus{OrderStatusCreated, OrderStatusAuthorized, OrderStatusCaptured, OrderStatusFailed}

	for _, terminal := range []OrderStatus{OrderStatusCaptured, OrderStatusFailed} {
		require.True(t, terminal.IsTerminal())
		for _, requested := range all {
			assert.NotEqual(t, DecisionApply, Decide(terminal, requested), "%s -> %s", terminal, requested)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus(" captured ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCaptured, s)

	_, err = ParseOrderStatus("REFUNDED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.True(t, IsValidation(err))
}

// =============================================================================
// Тесты валидации
// =============================================================================

func strPtr(s string) *string { return &s }

func TestCreateParams_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		params  CreateParams
		wantErr error
		check   func(t *testing.T, p CreateParams)
	}{
		{
			name:   "валюта приводится к верхнему регистру",
			params: CreateParams{AmountMinor: 999, Currency: " usd "},
			check: func(t *testing.T, p CreateParams) {
				assert.Equal(t, "USD", p.Currency)
			},
		},
		{
			name:   "пустое описание превращается в nil",
			params: CreateParams{AmountMinor: 1, Currency: "EUR", Description: strPtr("  "), Note: strPtr(" стол 4 ")},
			check: func(t *testing.T, p CreateParams) {
				assert.Nil(t, p.Description)
				require.NotNil(t, p.Note)
				assert.Equal(t, "стол 4", *p.Note)
			},
		},
		{name: "нулевая сумма", params: CreateParams{AmountMinor: 0, Currency: "USD"}, wantErr: ErrInvalidAmount},
		{name: "отрицательная сумма", params: CreateParams{AmountMinor: -5, Currency: "USD"}, wantErr: ErrInvalidAmount},
		{name: "двухбуквенная валюта", params: CreateParams{AmountMinor: 1, Currency: "US"}, wantErr: ErrInvalidCurrency},
		{name: "валюта с цифрой", params: CreateParams{AmountMinor: 1, Currency: "US1"}, wantErr: ErrInvalidCurrency},
		{
			name:    "слишком длинная заметка",
			params:  CreateParams{AmountMinor: 1, Currency: "USD", Note: strPtr(strings.Repeat("я", MaxTextLength+1))},
			wantErr: ErrTextTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.params.Normalize()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestNewOrderAndLink_ShareID(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := NewOrder("ord-1", CreateParams{AmountMinor: 999, Currency: "USD", Description: strPtr("Кофе")}, now)

	assert.Equal(t, OrderStatusCreated, order.Status)
	assert.Equal(t, "ord-1", order.LinkID)

	link := NewPaymentLink(order, "PLxyz", "https://checkout.example/PLxyz")

	assert.Equal(t, order.LinkID, link.ID)
	assert.Equal(t, LinkStatusPending, link.Status)
	require.NotNil(t, link.ExternalLinkID)
	assert.Equal(t, "PLxyz", *link.ExternalLinkID)
	assert.Equal(t, int64(999), link.AmountMinor)
	assert.Equal(t, now, link.CreatedAt)
}
