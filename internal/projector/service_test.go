package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func envelopeMessage(eventID, eventType string, payload any) kafkago.Message {
	env := orders.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "order-api",
		Payload:      mustJSON(payload),
	}
	return kafkago.Message{Topic: orders.TopicOrderStateChanged, Value: mustJSON(env)}
}

func TestHandleOrderEventInvalidatesCachedView(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	cache := redisx.NewOrderCache(rdb)
	svc := &Service{Cache: cache, Dedup: redisx.NewDedup(rdb, "projector"), Logger: zap.NewNop()}

	require.NoError(t, cache.PutView(ctx, orders.OrderView{ID: "o1"}))

	msg := envelopeMessage("evt-1", orders.EventOrderStateChanged, orders.OrderStateChangedPayload{
		OrderID: "o1", Previous: orders.StateUnconfirmed, Current: orders.StateConfirmed,
	})
	require.NoError(t, svc.HandleOrderEvent(ctx, msg))

	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyOrderView, "o1")))
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyDedup, "projector", "evt-1")))

	// replay is a no-op even after the view is cached again
	require.NoError(t, cache.PutView(ctx, orders.OrderView{ID: "o1"}))
	require.NoError(t, svc.HandleOrderEvent(ctx, msg))
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyOrderView, "o1")))
}

func TestHandleOrderEventIgnoresGarbageAndUnknownTypes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	svc := &Service{Cache: redisx.NewOrderCache(rdb), Dedup: redisx.NewDedup(rdb, "projector")}

	require.NoError(t, svc.HandleOrderEvent(ctx, kafkago.Message{Value: []byte("not json")}))
	require.NoError(t, svc.HandleOrderEvent(ctx, envelopeMessage("evt-2", "StockReserved", map[string]string{"order_id": "o1"})))
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyDedup, "projector", "evt-2")))
}

type failingCache struct{ err error }

func (c failingCache) Invalidate(context.Context, string) error { return c.err }

func TestHandleOrderEventReleasesClaimOnFailure(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dedup := redisx.NewDedup(redisx.New(mr.Addr()), "projector")
	svc := &Service{Cache: failingCache{err: errors.New("redis down")}, Dedup: dedup}

	msg := envelopeMessage("evt-3", orders.EventOrderDeleted, orders.OrderDeletedPayload{OrderID: "o9"})
	err := svc.HandleOrderEvent(ctx, msg)
	assert.ErrorContains(t, err, "invalidate order o9")
	assert.False(t, mr.Exists(fmt.Sprintf(redisx.KeyDedup, "projector", "evt-3")))
}
