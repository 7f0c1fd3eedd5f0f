package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestNewClientParsesBrokers(t *testing.T) {
	c := NewClient(" kafka-1:9092, ,kafka-2:9092 ")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Brokers)
	assert.True(t, c.Enabled())
	assert.False(t, NewClient("").Enabled())
}

func TestPublishJSON(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, PublishJSON(context.Background(), w, "order-1", map[string]any{"type": "order.created"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-1", string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "order.created", got["type"])

	// raw JSON passes through unchanged
	require.NoError(t, PublishJSON(context.Background(), w, "order-1", json.RawMessage(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(w.msgs[1].Value))
}

func TestPublishWithoutWriter(t *testing.T) {
	assert.ErrorIs(t, PublishJSON(context.Background(), nil, "k", 1), ErrDisabled)
}
