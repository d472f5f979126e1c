package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

const baseURL = "http://orders.test"

type fixture struct {
	store     *memstore.Store
	router    *chi.Mux
	userID    string
	productID string
	mr        *miniredis.Miniredis
}

func newFixture(t *testing.T, withRedis bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.SeedStates(ctx))
	u, err := store.CreateUser(ctx, orders.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	c, err := store.EnsureCategory(ctx, "books")
	require.NoError(t, err)
	p, err := store.CreateProduct(ctx, orders.Product{
		Name:        "Go in Action",
		Price:       decimal.RequireFromString("19.90"),
		Weight:      decimal.RequireFromString("0.4"),
		CategoryIDs: []string{c.ID},
		Available:   5,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	router := NewRouter(RouterConfig{Metrics: observability.NewServerMetrics(reg, "test"), Gatherer: reg})
	h := &OrdersHandler{Orders: orders.NewService(store), BaseURL: baseURL}

	f := &fixture{store: store, router: router, userID: u.ID, productID: p.ID}
	if withRedis {
		f.mr = miniredis.RunT(t)
		rdb := redisx.New(f.mr.Addr())
		h.Cache = redisx.NewOrderCache(rdb)
		h.Idem = redisx.NewIdempotency(rdb)
	}
	h.Register(router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	p, err := f.store.FindProduct(context.Background(), f.productID)
	require.NoError(t, err)
	return p.Available
}

func (f *fixture) createBody(qty int) map[string]any {
	return map[string]any{
		"user_id": f.userID,
		"items":   []map[string]any{{"product_id": f.productID, "quantity": qty}},
	}
}

func orderID(t *testing.T, body map[string]any) string {
	t.Helper()
	order, ok := body["order"].(map[string]any)
	require.True(t, ok, "response has no order: %v", body)
	return order["id"].(string)
}

func TestCreateOrderReturnsViewAndLink(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodPost, "/orders", f.createBody(2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	id := orderID(t, body)
	order := body["order"].(map[string]any)
	assert.Equal(t, string(orders.StateUnconfirmed), order["state"].(map[string]any)["name"])
	assert.Equal(t, f.userID, order["user_id"])

	link := body["request"].(map[string]any)
	assert.Equal(t, "GET", link["method"])
	assert.Equal(t, baseURL+"/orders/"+id, link["url"])
	assert.Equal(t, 3, f.available(t))
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	f := newFixture(t, false)
	missing := uuid.NewString()

	rec, body := f.do(t, http.MethodPost, "/orders", map[string]any{
		"user_id": f.userID,
		"items":   []map[string]any{{"product_id": missing, "quantity": 1}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_reference", body["error"])
	reasons := body["reasons"].(map[string]any)
	products := reasons[orders.ReasonProducts].([]any)
	require.Len(t, products, 1)
	assert.Contains(t, products[0], missing)
	assert.Equal(t, 5, f.available(t))
}

func TestTransitionFlow(t *testing.T) {
	f := newFixture(t, false)
	_, body := f.do(t, http.MethodPost, "/orders", f.createBody(1))
	id := orderID(t, body)

	rec, body := f.do(t, http.MethodPut, "/orders/"+id+"/state", map[string]any{"state": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(orders.StateUnconfirmed), body["previous"])
	assert.Equal(t, string(orders.StateConfirmed), body["current"])
	assert.NotNil(t, body["order"].(map[string]any)["confirmation_date"])

	rec, body = f.do(t, http.MethodPut, "/orders/"+id+"/state", map[string]any{"state": "CANCELLED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(orders.StateConfirmed), body["current_state"])
	assert.Equal(t, string(orders.StateCancelled), body["target_state"])

	rec, body = f.do(t, http.MethodPut, "/orders/"+id+"/state", map[string]any{"state": "SHIPPED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["reasons"].(map[string]any), orders.ReasonOrderState)

	rec, _ = f.do(t, http.MethodPatch, "/orders/"+id, map[string]any{
		"items": []map[string]any{{"product_id": f.productID, "quantity": 2}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 4, f.available(t))
}

func TestUpdateAndDeleteRestoreStock(t *testing.T) {
	f := newFixture(t, false)
	_, body := f.do(t, http.MethodPost, "/orders", f.createBody(2))
	id := orderID(t, body)

	rec, body := f.do(t, http.MethodPatch, "/orders/"+id, map[string]any{
		"items": []map[string]any{{"product_id": f.productID, "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "order updated", body["message"])
	assert.Equal(t, 1, f.available(t))

	rec, body = f.do(t, http.MethodPatch, "/orders/"+id, map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, f.available(t))

	rec, body = f.do(t, http.MethodDelete, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, baseURL+"/orders", body["request"].(map[string]any)["url"])
	assert.Equal(t, 5, f.available(t))

	rec, _ = f.do(t, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t, false)

	for _, id := range []string{"not-a-uuid", uuid.NewString()} {
		rec, body := f.do(t, http.MethodGet, "/orders/"+id, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "not_found", body["error"])
	}
}

func TestListOrdersFilters(t *testing.T) {
	f := newFixture(t, false)
	_, body := f.do(t, http.MethodPost, "/orders", f.createBody(1))
	first := orderID(t, body)
	f.do(t, http.MethodPost, "/orders", f.createBody(1))
	f.do(t, http.MethodPut, "/orders/"+first+"/state", map[string]any{"state": "CONFIRMED"})

	rec, body := f.do(t, http.MethodGet, "/orders?state=confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	entry := body["orders"].([]any)[0].(map[string]any)
	assert.Equal(t, baseURL+"/orders/"+first, entry["request"].(map[string]any)["url"])
	assert.Equal(t, first, entry["order"].(map[string]any)["id"])

	rec, body = f.do(t, http.MethodGet, "/orders?product="+f.productID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, _ = f.do(t, http.MethodGet, "/orders?state=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatesAndProducts(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/states", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, len(orders.AllStates), body["count"])

	first := body["states"].([]any)[0].(map[string]any)
	rec, body = f.do(t, http.MethodGet, "/states/"+first["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["name"], body["name"])

	rec, body = f.do(t, http.MethodGet, "/products/"+f.productID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "19.90", body["price"])
	assert.EqualValues(t, 5, body["available"])
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodPost, "/orders", f.createBody(2), HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := orderID(t, body)

	rec, body = f.do(t, http.MethodPost, "/orders", f.createBody(2), HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, orderID(t, body))
	assert.Equal(t, true, body["idempotent"])
	assert.Equal(t, 3, f.available(t))
}

func TestGetOrderCachesAndMutationsInvalidate(t *testing.T) {
	f := newFixture(t, true)
	_, body := f.do(t, http.MethodPost, "/orders", f.createBody(1))
	id := orderID(t, body)
	key := fmt.Sprintf(redisx.KeyOrderView, id)

	rec, _ := f.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.mr.Exists(key))

	rec, _ = f.do(t, http.MethodPut, "/orders/"+id+"/state", map[string]any{"state": "CANCELLED"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.mr.Exists(key))

	_, body = f.do(t, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, string(orders.StateCancelled), body["state"].(map[string]any)["name"])
}

func TestInvalidJSON(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, false)
	rec, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.do(t, http.MethodGet, "/orders/"+uuid.NewString(), nil)
	rec, _ = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orders_test_http_requests_total{method="GET",route="/orders/{id}",status="404"} 1`)
}
