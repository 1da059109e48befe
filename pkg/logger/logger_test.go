package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Service: "quickpay", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	ctx := NewContextWithIDs(context.Background(), "trace-1", "EVt1")
	l := FromContext(ctx)
	l.Info().Str("order_id", "o-1").Msg("Заказ создан")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "EVt1", entry["correlation_id"])
	assert.Equal(t, "quickpay", entry["service"])
	assert.Equal(t, "o-1", entry["order_id"])
}

func TestNewContextWithIDs_SkipsEmpty(t *testing.T) {
	ctx := NewContextWithIDs(context.Background(), "", "")

	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))
}

func TestParseLevel_UnknownFallsBackToInfo(t *testing.T) {
	assert.Equal(t, "info", parseLevel("verbose").String())
	assert.Equal(t, "warn", parseLevel("WARNING").String())
}

func TestFromContext_PreparedLoggerWins(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	ctx := NewContextWithIDs(context.Background(), "trace-1", "")
	prepared := FromContext(ctx).With().Str("event_id", "EV1").Logger()
	ctx = WithLogger(ctx, prepared)

	Ctx(ctx).Info().Msg("событие")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"trace_id"`)))
	assert.Contains(t, buf.String(), `"event_id":"EV1"`)
}
