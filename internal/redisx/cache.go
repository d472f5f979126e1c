package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// OrderCache keeps rendered order views close to the read path. Misses and
// decode failures both report ok=false.
type OrderCache struct {
	rdb *redis.Client
}

func NewOrderCache(rdb *redis.Client) *OrderCache { return &OrderCache{rdb: rdb} }

func (c *OrderCache) GetView(ctx context.Context, orderID string) (orders.OrderView, bool, error) {
	var v orders.OrderView
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}

func (c *OrderCache) PutView(ctx context.Context, v orders.OrderView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderView, v.ID), b, TTLViewCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderView, orderID)).Err()
}

// Idempotency maps a client supplied key to the order it created.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

func (i *Idempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remember stores key -> orderID unless the key is already taken. It returns
// false when another request got there first.
func (i *Idempotency) Remember(ctx context.Context, key, orderID string) (bool, error) {
	return i.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Result()
}

// Dedup marks processed event ids per consumer service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// First reports whether eventID is seen for the first time, claiming it.
func (d *Dedup) First(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Result()
}

// Forget releases a claim so a failed event can be retried.
func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, eventID)).Err()
}
