package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Workflow is the part of orders.Service the handlers drive.
type Workflow interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.Order, error)
	UpdateOrder(ctx context.Context, orderID string, patch orders.OrderPatch) (orders.Order, error)
	TransitionOrderState(ctx context.Context, orderID, target string) (orders.Ack, error)
	DeleteOrder(ctx context.Context, orderID string) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error)
	ListStates(ctx context.Context) ([]orders.StateRecord, error)
	GetState(ctx context.Context, id string) (orders.StateRecord, error)
	GetProduct(ctx context.Context, id string) (orders.Product, error)
}

type ViewCache interface {
	GetView(ctx context.Context, orderID string) (orders.OrderView, bool, error)
	PutView(ctx context.Context, v orders.OrderView) error
	Invalidate(ctx context.Context, orderID string) error
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, orderID string) (bool, error)
}

// OrdersHandler serves the order routes. Cache and Idem are optional.
type OrdersHandler struct {
	Orders  Workflow
	Cache   ViewCache
	Idem    IdempotencyStore
	BaseURL string
	Logger  *zap.Logger
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	UserID           string     `json:"user_id"`
	Items            []itemReq  `json:"items"`
	ConfirmationDate *time.Time `json:"confirmation_date"`
}

type updateOrderReq struct {
	UserID           *string    `json:"user_id"`
	Items            *[]itemReq `json:"items"`
	ConfirmationDate *time.Time `json:"confirmation_date"`
}

type transitionReq struct {
	State string `json:"state"`
}

type orderResp struct {
	Message    string           `json:"message"`
	Order      orders.OrderView `json:"order"`
	Request    orders.Link      `json:"request"`
	Idempotent bool             `json:"idempotent,omitempty"`
}

type listEntry struct {
	Order   orders.OrderView `json:"order"`
	Request orders.Link      `json:"request"`
}

type transitionResp struct {
	Message   string            `json:"message"`
	OrderID   string            `json:"order_id"`
	Previous  orders.State      `json:"previous"`
	Current   orders.State      `json:"current"`
	ChangedAt time.Time         `json:"changed_at"`
	Order     *orders.OrderView `json:"order,omitempty"`
	Request   orders.Link       `json:"request"`
}

type productResp struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       string   `json:"price"`
	Weight      string   `json:"weight"`
	CategoryIDs []string `json:"category_ids"`
	Available   int      `json:"available"`
	Image       string   `json:"image,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}", h.updateOrder)
	r.Put("/orders/{id}/state", h.transitionOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Get("/states", h.listStates)
	r.Get("/states/{id}", h.getState)
	r.Get("/products/{id}", h.getProduct)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderReq
	if !decode(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.Idem != nil {
		if id, ok, err := h.Idem.Lookup(ctx, key); err != nil {
			h.logger().Warn("idempotency lookup", zap.Error(err))
		} else if ok {
			o, err := h.Orders.GetOrder(ctx, id)
			if err == nil {
				writeJSON(w, http.StatusOK, h.orderResponse("order already created", o, true))
				return
			}
			h.logger().Warn("idempotent replay of missing order", zap.String("order_id", id), zap.Error(err))
		}
	}

	o, err := h.Orders.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:           req.UserID,
		Items:            toLineItems(req.Items),
		ConfirmationDate: req.ConfirmationDate,
	})
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}

	if key != "" && h.Idem != nil {
		if won, err := h.Idem.Remember(ctx, key, o.ID); err != nil || !won {
			h.logger().Warn("idempotency key not stored", zap.String("order_id", o.ID), zap.Bool("taken", !won), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, h.orderResponse("order created", o, false))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := orders.OrderFilter{UserID: q.Get("user"), ProductID: q.Get("product")}
	if name := q.Get("state"); name != "" {
		st, ok := orders.ParseState(name)
		if !ok {
			reasons := orders.Reasons{}
			reasons.Add(orders.ReasonOrderState, "state %q not found", name)
			writeErr(ctx, w, h.logger(), &orders.ReferentialError{Reasons: reasons})
			return
		}
		filter.State = st
	}

	list, err := h.Orders.ListOrders(ctx, filter)
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}
	entries := make([]listEntry, 0, len(list))
	for _, o := range list {
		entries = append(entries, listEntry{
			Order:   orders.NewOrderView(o),
			Request: orders.OrderLink(h.BaseURL, o.ID, "get the order"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "orders": entries})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.Cache != nil {
		if v, ok, err := h.Cache.GetView(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, v)
			return
		} else if err != nil {
			h.logger().Warn("order cache read", zap.String("order_id", id), zap.Error(err))
		}
	}

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}
	v := orders.NewOrderView(o)
	if h.Cache != nil {
		if err := h.Cache.PutView(ctx, v); err != nil {
			h.logger().Warn("order cache write", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req updateOrderReq
	if !decode(w, r, &req) {
		return
	}
	patch := orders.OrderPatch{UserID: req.UserID, ConfirmationDate: req.ConfirmationDate}
	if req.Items != nil {
		patch.Items = toLineItems(*req.Items)
	}

	o, err := h.Orders.UpdateOrder(ctx, id, patch)
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}
	h.invalidate(ctx, o.ID)
	writeJSON(w, http.StatusOK, h.orderResponse("order updated", o, false))
}

func (h *OrdersHandler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req transitionReq
	if !decode(w, r, &req) {
		return
	}

	ack, err := h.Orders.TransitionOrderState(ctx, id, req.State)
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}
	h.invalidate(ctx, ack.OrderID)

	resp := transitionResp{
		Message:   "order state changed",
		OrderID:   ack.OrderID,
		Previous:  ack.Previous,
		Current:   ack.Current,
		ChangedAt: ack.ChangedAt.UTC(),
		Request:   orders.OrderLink(h.BaseURL, ack.OrderID, "get the updated order"),
	}
	if o, err := h.Orders.GetOrder(ctx, ack.OrderID); err == nil {
		v := orders.NewOrderView(o)
		resp.Order = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	o, err := h.Orders.DeleteOrder(ctx, id)
	if err != nil {
		writeErr(ctx, w, h.logger(), err)
		return
	}
	h.invalidate(ctx, o.ID)
	writeJSON(w, http.StatusOK, orderResp{
		Message: "order deleted",
		Order:   orders.NewOrderView(o),
		Request: orders.Link{
			Description: "list remaining orders",
			Method:      http.MethodGet,
			URL:         strings.TrimRight(h.BaseURL, "/") + "/orders",
		},
	})
}

func (h *OrdersHandler) listStates(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListStates(r.Context())
	if err != nil {
		writeErr(r.Context(), w, h.logger(), err)
		return
	}
	out := make([]orders.StateView, 0, len(list))
	for _, s := range list {
		out = append(out, orders.StateView{ID: s.ID, Name: s.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "states": out})
}

func (h *OrdersHandler) getState(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orders.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(r.Context(), w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, orders.StateView{ID: s.ID, Name: s.Name})
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Orders.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(r.Context(), w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, productResp{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Weight:      p.Weight.String(),
		CategoryIDs: p.CategoryIDs,
		Available:   p.Available,
		Image:       p.Image,
	})
}

func (h *OrdersHandler) orderResponse(msg string, o orders.Order, idempotent bool) orderResp {
	return orderResp{
		Message:    msg,
		Order:      orders.NewOrderView(o),
		Request:    orders.OrderLink(h.BaseURL, o.ID, "get the order"),
		Idempotent: idempotent,
	}
}

func (h *OrdersHandler) invalidate(ctx context.Context, orderID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, orderID); err != nil {
		h.logger().Warn("order cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(r.Context(), w, NewError("invalid_json", "invalid json: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func toLineItems(in []itemReq) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(in))
	for _, it := range in {
		out = append(out, orders.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
