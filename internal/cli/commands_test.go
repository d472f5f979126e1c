package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type harness struct {
	store *memstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.SeedStates(context.Background()))
	return &harness{store: s}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, done := NewRootCommand(func(context.Context, *viper.Viper) (Backend, func(), error) {
		return h.store, func() {}, nil
	})
	defer done()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) seedCatalog(t *testing.T) (userID, productID string) {
	t.Helper()
	var u orders.User
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "user", "add", "--username", "rina", "--email", "rina@example.com")), &u))

	var p orders.Product
	out := h.mustRun(t, "product", "add", "--name", "kettle", "--price", "25.00", "--weight", "1.2",
		"--category", "kitchen", "--category", "appliances", "--available", "5")
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Len(t, p.CategoryIDs, 2)
	return u.ID, p.ID
}

func TestOrderLifecycleThroughCLI(t *testing.T) {
	h := newHarness(t)
	userID, productID := h.seedCatalog(t)

	var view orders.OrderView
	out := h.mustRun(t, "order", "create", "--user", userID, "--item", productID+":2")
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, orders.StateUnconfirmed, view.State.Name)

	p, err := h.store.FindProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Available)

	out = h.mustRun(t, "order", "transition", view.ID, "confirmed")
	assert.Equal(t, view.ID+": UNCONFIRMED -> CONFIRMED\n", out)

	_, err = h.run(t, "", "order", "transition", view.ID, "cancelled")
	assert.True(t, orders.IsStateTransitionError(err))

	out = h.mustRun(t, "orders", "--state", "CONFIRMED")
	assert.Contains(t, out, view.ID)
	out = h.mustRun(t, "orders", "--state", "DONE")
	assert.Empty(t, out)

	out = h.mustRun(t, "order", "delete", view.ID, "--force")
	assert.Contains(t, out, "released 2 units")
	p, err = h.store.FindProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Available)
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	userID, productID := h.seedCatalog(t)
	var view orders.OrderView
	require.NoError(t, json.Unmarshal([]byte(h.mustRun(t, "order", "create", "--user", userID, "--item", productID+":1")), &view))

	out, err := h.run(t, "n\n", "order", "delete", view.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "aborted")

	out, err = h.run(t, "y\n", "order", "delete", view.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+view.ID)
}

func TestStatesAndSeed(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "states seeded\n", h.mustRun(t, "seed-states"))
	assert.Equal(t, "migrated\n", h.mustRun(t, "migrate"))

	out := h.mustRun(t, "states")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(orders.AllStates))
	assert.True(t, strings.HasSuffix(lines[0], "| UNCONFIRMED"))
	assert.Contains(t, out, "| CANCELLED (terminal)\n")
	assert.Contains(t, out, "| DONE (terminal)\n")
	assert.NotContains(t, out, "CONFIRMED (terminal)")
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "product", "add", "--name", "x", "--price", "abc", "--weight", "1")
	assert.ErrorContains(t, err, "invalid price")

	_, err = h.run(t, "", "product", "add", "--name", "x", "--price", "1", "--weight", "1")
	assert.ErrorContains(t, err, "at least one category")

	_, err = h.run(t, "", "order", "create", "--user", "u", "--item", "broken")
	assert.ErrorContains(t, err, "product_id:quantity")

	_, err = h.run(t, "", "orders", "--state", "lost")
	assert.ErrorContains(t, err, "unknown state")

	_, err = h.run(t, "", "product", "get", "missing")
	assert.True(t, orders.IsNotFoundError(err))
}

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"a:1", " b :3"})
	require.NoError(t, err)
	assert.Equal(t, []orders.LineItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 3}}, items)

	_, err = parseItems(nil)
	assert.Error(t, err)
	_, err = parseItems([]string{"a:x"})
	assert.Error(t, err)
}
