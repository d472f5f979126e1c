package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Weight      decimal.Decimal
	CategoryIDs []string
	Available   int
	Image       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Category struct {
	ID   string
	Name string
}

type User struct {
	ID        string
	Username  string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// StateRecord is the persisted row behind a State.
type StateRecord struct {
	ID   string
	Name State
}

// LineItem is a product quantity embedded in an order. It has no identity of
// its own.
type LineItem struct {
	ProductID string
	Quantity  int
}

type Order struct {
	ID               string
	ConfirmationDate *time.Time
	State            StateRecord
	UserID           string
	Items            []LineItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	State     State
	UserID    string
	ProductID string
}

// Ack confirms a state transition.
type Ack struct {
	OrderID   string
	Previous  State
	Current   State
	ChangedAt time.Time
}

// quantities sums line-item quantities per product.
func quantities(items []LineItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

// NormalizeItems merges duplicate products, keeping first-occurrence order.
func NormalizeItems(items []LineItem) []LineItem {
	idx := make(map[string]int, len(items))
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// TotalQuantity is the number of units an order holds.
func (o Order) TotalQuantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

func (o Order) HasProduct(productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// ValidateProduct enforces the product invariants every store relies on.
func ValidateProduct(p Product) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.New("product name is required")
	case !p.Price.IsPositive():
		return fmt.Errorf("product price must be greater than zero, got %s", p.Price)
	case !p.Weight.IsPositive():
		return fmt.Errorf("product weight must be greater than zero, got %s", p.Weight)
	case len(p.CategoryIDs) == 0:
		return errors.New("each product must belong to at least one category")
	case p.Available < 0:
		return fmt.Errorf("product count could not be below zero, got %d", p.Available)
	}
	return nil
}
