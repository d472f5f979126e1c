package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderViewNormalizes(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	confirmed := time.Date(2024, 5, 1, 10, 0, 0, 0, loc)
	o := Order{
		ID:               "o1",
		ConfirmationDate: &confirmed,
		State:            StateRecord{ID: "s1", Name: StateConfirmed},
		UserID:           "u1",
		Items: []LineItem{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 2},
			{ProductID: "p1", Quantity: 3},
		},
	}

	v := NewOrderView(o)
	assert.Equal(t, []ItemView{{ProductID: "p1", Quantity: 4}, {ProductID: "p2", Quantity: 2}}, v.Items)
	assert.Equal(t, time.UTC, v.ConfirmationDate.Location())
	assert.True(t, confirmed.Equal(*v.ConfirmationDate))
	assert.Equal(t, StateView{ID: "s1", Name: StateConfirmed}, v.State)
	assert.Equal(t, 6, o.TotalQuantity())
	assert.True(t, o.HasProduct("p2"))
	assert.False(t, o.HasProduct("p3"))
}

func TestNewOrderViewWithoutItems(t *testing.T) {
	v := NewOrderView(Order{ID: "o1"})
	assert.NotNil(t, v.Items)
	assert.Nil(t, v.ConfirmationDate)
}

func TestOrderLink(t *testing.T) {
	l := OrderLink("http://localhost:8080/", "o1", "get the order")
	assert.Equal(t, Link{Description: "get the order", Method: "GET", URL: "http://localhost:8080/orders/o1"}, l)
}

func TestStockDelta(t *testing.T) {
	old := []LineItem{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}
	next := []LineItem{{ProductID: "a", Quantity: 2}, {ProductID: "c", Quantity: 3}}
	assert.Equal(t, map[string]int{"b": 1, "c": -3}, stockDelta(old, next))
	assert.Equal(t, map[string]int{"a": -2, "b": -1}, stockDelta(nil, old))
	assert.Empty(t, stockDelta(old, old))
}
