package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, func() *OrderCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, func() *OrderCache { return NewOrderCache(New(mr.Addr())) }
}

func TestOrderCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, mk := newTestRedis(t)
	c := mk()

	_, ok, err := c.GetView(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	v := orders.OrderView{
		ID:     "o1",
		State:  orders.StateView{ID: "s1", Name: orders.StateUnconfirmed},
		UserID: "u1",
		Items:  []orders.ItemView{{ProductID: "p1", Quantity: 2}},
	}
	require.NoError(t, c.PutView(ctx, v))
	assert.True(t, mr.Exists(fmt.Sprintf(KeyOrderView, "o1")))
	assert.Equal(t, TTLViewCache, mr.TTL(fmt.Sprintf(KeyOrderView, "o1")))

	got, ok, err := c.GetView(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, got)

	require.NoError(t, c.Invalidate(ctx, "o1"))
	_, ok, err = c.GetView(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderCacheIgnoresGarbage(t *testing.T) {
	ctx := context.Background()
	mr, mk := newTestRedis(t)
	c := mk()

	require.NoError(t, mr.Set(fmt.Sprintf(KeyOrderView, "o2"), "{not json"))
	_, ok, err := c.GetView(ctx, "o2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyRememberOnce(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	idem := NewIdempotency(New(mr.Addr()))

	_, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	won, err := idem.Remember(ctx, "k1", "order-a")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = idem.Remember(ctx, "k1", "order-b")
	require.NoError(t, err)
	assert.False(t, won)

	id, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-a", id)
}

func TestDedupFirstAndForget(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	d := NewDedup(rdb, "projector")

	first, err := d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, first)

	exists, err := Exists(ctx, rdb, fmt.Sprintf(KeyDedup, "projector", "evt-1"))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, d.Forget(ctx, "evt-1"))
	first, err = d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestPingUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	require.NoError(t, Ping(context.Background(), rdb))

	mr.Close()
	assert.Error(t, Ping(context.Background(), rdb))
}
