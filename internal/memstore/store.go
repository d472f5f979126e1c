// Package memstore keeps products, users, order states and orders in process
// memory. Transactions run one at a time on a private copy of the data which
// replaces the live copy on commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type data struct {
	products   map[string]orders.Product
	users      map[string]orders.User
	categories map[string]orders.Category
	states     map[string]orders.StateRecord
	orders     map[string]orders.Order
	seq        map[string]int64 // insertion order of orders
	next       int64
}

func newData() *data {
	return &data{
		products:   make(map[string]orders.Product),
		users:      make(map[string]orders.User),
		categories: make(map[string]orders.Category),
		states:     make(map[string]orders.StateRecord),
		orders:     make(map[string]orders.Order),
		seq:        make(map[string]int64),
	}
}

func (d *data) clone() *data {
	c := &data{
		products:   make(map[string]orders.Product, len(d.products)),
		users:      make(map[string]orders.User, len(d.users)),
		categories: make(map[string]orders.Category, len(d.categories)),
		states:     make(map[string]orders.StateRecord, len(d.states)),
		orders:     make(map[string]orders.Order, len(d.orders)),
		seq:        make(map[string]int64, len(d.seq)),
		next:       d.next,
	}
	for k, v := range d.products {
		c.products[k] = copyProduct(v)
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.states {
		c.states[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

// Store is a thread-safe in-memory orders.Store.
type Store struct {
	mu sync.RWMutex
	// txMu orders every write: a transaction commits by swapping in its copy,
	// so no other write may land while it runs.
	txMu sync.Mutex
	d    *data
	now  func() time.Time
}

var (
	_ orders.Store   = (*Store)(nil)
	_ orders.Catalog = (*Store)(nil)
)

func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

func (s *Store) FindProduct(ctx context.Context, id string) (orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return orders.Product{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.d.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, id)
	}
	return copyProduct(p), nil
}

func (s *Store) FindUser(ctx context.Context, id string) (orders.User, error) {
	if err := ctx.Err(); err != nil {
		return orders.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.d.users[id]
	if !ok {
		return orders.User{}, fmt.Errorf("%w: id=%s", orders.ErrUserNotFound, id)
	}
	return u, nil
}

func (s *Store) FindStateByName(ctx context.Context, name orders.State) (orders.StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return orders.StateRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.d.states {
		if st.Name == name {
			return st, nil
		}
	}
	return orders.StateRecord{}, fmt.Errorf("%w: name=%s", orders.ErrStateNotFound, name)
}

func (s *Store) FindStateByID(ctx context.Context, id string) (orders.StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return orders.StateRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.d.states[id]
	if !ok {
		return orders.StateRecord{}, fmt.Errorf("%w: id=%s", orders.ErrStateNotFound, id)
	}
	return st, nil
}

func (s *Store) ListStates(ctx context.Context) ([]orders.StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rank := make(map[orders.State]int, len(orders.AllStates))
	for i, st := range orders.AllStates {
		rank[st] = i
	}
	out := make([]orders.StateRecord, 0, len(s.d.states))
	for _, st := range s.d.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i].Name] < rank[out[j].Name] })
	return out, nil
}

func (s *Store) SeedStates(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	have := make(map[orders.State]bool, len(s.d.states))
	for _, st := range s.d.states {
		have[st.Name] = true
	}
	for _, name := range orders.AllStates {
		if have[name] {
			continue
		}
		id := uuid.NewString()
		s.d.states[id] = orders.StateRecord{ID: id, Name: name}
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id string) (orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return orders.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.d.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, id)
	}
	return copyOrder(o), nil
}

func (s *Store) ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0, len(s.d.orders))
	for _, o := range s.d.orders {
		if filter.State != "" && o.State.Name != filter.State {
			continue
		}
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.ProductID != "" && !o.HasProduct(filter.ProductID) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return s.d.seq[out[i].ID] < s.d.seq[out[j].ID] })
	return out, nil
}

// WithinTx serializes transactions. fn works on a copy; the copy becomes the
// live data only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.d.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.d = work
	s.mu.Unlock()
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u orders.User) (orders.User, error) {
	if err := ctx.Err(); err != nil {
		return orders.User{}, err
	}
	if strings.TrimSpace(u.Username) == "" {
		return orders.User{}, errors.New("username is required")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.d.users {
		if existing.Username == u.Username {
			return orders.User{}, fmt.Errorf("duplicate user: username=%s", u.Username)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.now().UTC()
	s.d.users[u.ID] = u
	return u, nil
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return orders.Product{}, err
	}
	if err := orders.ValidateProduct(p); err != nil {
		return orders.Product{}, err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range p.CategoryIDs {
		if _, ok := s.d.categories[c]; !ok {
			return orders.Product{}, fmt.Errorf("category not found: id=%s", c)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.d.products[p.ID] = copyProduct(p)
	return p, nil
}

func (s *Store) EnsureCategory(ctx context.Context, name string) (orders.Category, error) {
	if err := ctx.Err(); err != nil {
		return orders.Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return orders.Category{}, errors.New("category name is required")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.d.categories {
		if c.Name == name {
			return c, nil
		}
	}
	c := orders.Category{ID: uuid.NewString(), Name: name}
	s.d.categories[c.ID] = c
	return c, nil
}

type tx struct {
	d *data
}

func (t *tx) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return orders.Product{}, err
	}
	p, ok := t.d.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, id)
	}
	return copyProduct(p), nil
}

func (t *tx) SetProductAvailable(ctx context.Context, id string, available int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := t.d.products[id]
	if !ok {
		return fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, id)
	}
	if available < 0 {
		return fmt.Errorf("product %s: available count could not be below zero", id)
	}
	p.Available = available
	t.d.products[id] = p
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return orders.Order{}, err
	}
	o, ok := t.d.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, id)
	}
	return copyOrder(o), nil
}

func (t *tx) InsertOrder(ctx context.Context, o orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.d.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order: id=%s", o.ID)
	}
	if err := t.checkOrder(o); err != nil {
		return err
	}
	t.d.next++
	t.d.seq[o.ID] = t.d.next
	t.d.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.d.orders[o.ID]; !ok {
		return fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, o.ID)
	}
	if err := t.checkOrder(o); err != nil {
		return err
	}
	t.d.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.d.orders[id]; !ok {
		return fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, id)
	}
	delete(t.d.orders, id)
	delete(t.d.seq, id)
	return nil
}

// checkOrder mirrors the foreign keys and checks of the SQL schema.
func (t *tx) checkOrder(o orders.Order) error {
	if _, ok := t.d.states[o.State.ID]; !ok {
		return fmt.Errorf("%w: id=%s", orders.ErrStateNotFound, o.State.ID)
	}
	if _, ok := t.d.users[o.UserID]; !ok {
		return fmt.Errorf("%w: id=%s", orders.ErrUserNotFound, o.UserID)
	}
	if len(o.Items) == 0 {
		return errors.New("order must contain at least one product")
	}
	for _, it := range o.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("quantity of product %s must be at least 1", it.ProductID)
		}
		if _, ok := t.d.products[it.ProductID]; !ok {
			return fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, it.ProductID)
		}
	}
	return nil
}

func copyProduct(p orders.Product) orders.Product {
	p.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	return p
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	if o.ConfirmationDate != nil {
		t := *o.ConfirmationDate
		o.ConfirmationDate = &t
	}
	return o
}
