package orders

import (
	"strings"
	"time"
)

// OrderView is the canonical projection returned after every mutation.
type OrderView struct {
	ID               string     `json:"id"`
	ConfirmationDate *time.Time `json:"confirmation_date,omitempty"`
	State            StateView  `json:"state"`
	UserID           string     `json:"user_id"`
	Items            []ItemView `json:"items"`
}

type StateView struct {
	ID   string `json:"id"`
	Name State  `json:"name"`
}

type ItemView struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Link tells a client how to fetch the resource it just changed.
type Link struct {
	Description string `json:"description"`
	Method      string `json:"method"`
	URL         string `json:"url"`
}

func NewOrderView(o Order) OrderView {
	items := make([]ItemView, 0, len(o.Items))
	for _, it := range NormalizeItems(o.Items) {
		items = append(items, ItemView{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	var confirmed *time.Time
	if o.ConfirmationDate != nil {
		t := o.ConfirmationDate.UTC()
		confirmed = &t
	}
	return OrderView{
		ID:               o.ID,
		ConfirmationDate: confirmed,
		State:            StateView{ID: o.State.ID, Name: o.State.Name},
		UserID:           o.UserID,
		Items:            items,
	}
}

// OrderLink builds the follow-up GET reference for an order.
func OrderLink(baseURL, orderID, description string) Link {
	return Link{
		Description: description,
		Method:      "GET",
		URL:         strings.TrimRight(baseURL, "/") + "/orders/" + orderID,
	}
}
