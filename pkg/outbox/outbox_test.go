package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/testutil"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	pkgkafka "github.com/nazeru/storefront-checkout-go/pkg/kafka"
)

type fakeWriter struct {
	msgs    []kafka.Message
	failAt  int
	written int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.failAt > 0 && w.written+1 == w.failAt {
		return errors.New("broker down")
	}
	w.written += len(msgs)
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, contracts.NewEvent(contracts.EventOrderCreated, "o-1", "ORD-1", nil)))
	require.NoError(t, p.Publish(ctx, contracts.NewEvent(contracts.EventPaymentCaptured, "o-1", "ORD-1", nil)))
	assert.Equal(t, []string{"order.created", "payment.captured"}, p.Types())

	p.Err = errors.New("down")
	assert.Error(t, p.Publish(ctx, contracts.NewEvent(contracts.EventOrderCreated, "o-2", "", nil)))
	assert.Len(t, p.Events(), 2)
}

func TestRelayWithoutWriter(t *testing.T) {
	r := NewRelay(nil, nil, 0)
	_, err := r.Flush(context.Background())
	assert.ErrorIs(t, err, pkgkafka.ErrDisabled)
	assert.ErrorIs(t, r.Run(context.Background()), pkgkafka.ErrDisabled)
}

func TestRelayFlush_Integration(t *testing.T) {
	pool := testutil.Pool(t)
	ctx := context.Background()
	pub := NewPGPublisher(pool, "storefront.events")

	var ids []string
	for i := 0; i < 3; i++ {
		evt := contracts.NewEvent(contracts.EventOrderCreated, "o-1", "ORD-1", map[string]any{"n": i})
		require.NoError(t, pub.Publish(ctx, evt))
		ids = append(ids, evt.EventID)
	}
	// duplicate event ids are ignored
	require.NoError(t, Insert(ctx, pool, ids[0], "storefront.events", "o-1", map[string]any{}))

	w := &fakeWriter{failAt: 3}
	relay := NewRelay(pool, w, 0)
	n, err := relay.Flush(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "broker down")
	assert.ErrorContains(t, err, ids[2])
	assert.Equal(t, 2, n, "stops at the first broker error")

	w.failAt = 0
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, w.msgs, 3)
	var evt contracts.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, ids[0], evt.EventID)
	assert.Equal(t, "o-1", string(w.msgs[0].Key))
}
