package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventOrderUpdated      = "OrderUpdated"
	EventOrderStateChanged = "OrderStateChanged"
	EventOrderDeleted      = "OrderDeleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	State   State     `json:"state"`
	Items   []ItemQty `json:"items"`
}

type OrderUpdatedPayload struct {
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	ItemsReplaced bool      `json:"items_replaced"`
	Items         []ItemQty `json:"items"`
}

type OrderStateChangedPayload struct {
	OrderID  string `json:"order_id"`
	Previous State  `json:"previous"`
	Current  State  `json:"current"`
}

type OrderDeletedPayload struct {
	OrderID  string    `json:"order_id"`
	Released []ItemQty `json:"released"`
}

// EventPublisher ships lifecycle events to whatever broker is configured.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, env Envelope) error
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, string, Envelope) error { return nil }

// NopPublisher drops every event.
func NopPublisher() EventPublisher { return nopPublisher{} }

func toItemQty(items []LineItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}
