package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/orders")

// Recorder receives one observation per workflow operation.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}

// Service runs the order lifecycle: it validates references, keeps product
// stock in step with order line items and moves orders through the state
// machine. Each mutating call is one transaction.
type Service struct {
	store    Store
	events   EventPublisher
	logger   *zap.Logger
	recorder Recorder
	producer string
	now      func() time.Time
}

type Option func(*Service)

func WithEvents(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithProducerName sets the producer field of published envelopes.
func WithProducerName(name string) Option {
	return func(s *Service) { s.producer = name }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		events:   NopPublisher(),
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		producer: "order-api",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderInput struct {
	UserID           string
	Items            []LineItem
	ConfirmationDate *time.Time
}

// OrderPatch lists the fields to change. Nil fields stay as they are; a
// non-nil but empty Items is an attempt to empty the order and is rejected.
type OrderPatch struct {
	UserID           *string
	ConfirmationDate *time.Time
	Items            []LineItem
}

func (p OrderPatch) Empty() bool {
	return p.UserID == nil && p.ConfirmationDate == nil && p.Items == nil
}

// CreateOrder reserves stock for every line item and stores a new
// UNCONFIRMED order in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (order Order, err error) {
	ctx, finish := s.begin(ctx, "create")
	defer func() { finish(err) }()

	reasons := Reasons{}
	checkQuantities(in.Items, reasons)
	items := NormalizeItems(in.Items)
	if err := s.checkUser(ctx, in.UserID, reasons); err != nil {
		return Order{}, storageErr("create order", err)
	}
	if err := s.checkItems(ctx, items, nil, reasons); err != nil {
		return Order{}, storageErr("create order", err)
	}
	if !reasons.Empty() {
		return Order{}, &ReferentialError{Reasons: reasons}
	}

	initial, err := s.store.FindStateByName(ctx, StateUnconfirmed)
	if err != nil {
		return Order{}, &StorageError{Op: "create order", Err: fmt.Errorf("initial state: %w", err)}
	}

	now := s.now().UTC()
	var confirmed *time.Time
	if in.ConfirmationDate != nil {
		t := in.ConfirmationDate.UTC()
		confirmed = &t
	}
	order = Order{
		ID:               uuid.NewString(),
		ConfirmationDate: confirmed,
		State:            initial,
		UserID:           in.UserID,
		Items:            items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := adjustStock(ctx, tx, stockDelta(nil, items)); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, storageErr("create order", err)
	}

	s.publish(ctx, TopicOrderCreated, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		State:   order.State.Name,
		Items:   toItemQty(order.Items),
	})
	return order, nil
}

// UpdateOrder applies patch. Replacing line items is only allowed while the
// order is UNCONFIRMED; the old quantities go back to stock and the new ones
// are reserved in one transaction.
func (s *Service) UpdateOrder(ctx context.Context, orderID string, patch OrderPatch) (order Order, err error) {
	ctx, finish := s.begin(ctx, "update")
	defer func() { finish(err) }()

	current, err := s.findOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if patch.Empty() {
		return current, nil
	}
	if patch.Items != nil && !current.State.Name.Editable() {
		return Order{}, &StateTransitionError{OrderID: orderID, Current: current.State.Name, Op: "edit"}
	}

	reasons := Reasons{}
	if patch.UserID != nil {
		if err := s.checkUser(ctx, *patch.UserID, reasons); err != nil {
			return Order{}, storageErr("update order", err)
		}
	}
	var items []LineItem
	if patch.Items != nil {
		checkQuantities(patch.Items, reasons)
		items = NormalizeItems(patch.Items)
		if err := s.checkItems(ctx, items, quantities(current.Items), reasons); err != nil {
			return Order{}, storageErr("update order", err)
		}
	}
	if !reasons.Empty() {
		return Order{}, &ReferentialError{Reasons: reasons}
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFound("order", orderID, ErrOrderNotFound, err)
		}
		if patch.Items != nil {
			// Re-checked under the lock: a concurrent transition may have won.
			if !locked.State.Name.Editable() {
				return &StateTransitionError{OrderID: orderID, Current: locked.State.Name, Op: "edit"}
			}
			if err := adjustStock(ctx, tx, stockDelta(locked.Items, items)); err != nil {
				return err
			}
			locked.Items = items
		}
		if patch.UserID != nil {
			locked.UserID = *patch.UserID
		}
		if patch.ConfirmationDate != nil {
			t := patch.ConfirmationDate.UTC()
			locked.ConfirmationDate = &t
		}
		locked.UpdatedAt = s.now().UTC()
		order = locked
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		return Order{}, storageErr("update order", err)
	}

	s.publish(ctx, TopicOrderUpdated, EventOrderUpdated, order.ID, OrderUpdatedPayload{
		OrderID:       order.ID,
		UserID:        order.UserID,
		ItemsReplaced: patch.Items != nil,
		Items:         toItemQty(order.Items),
	})
	return order, nil
}

// TransitionOrderState moves an order to the named state. Stock is not
// touched.
func (s *Service) TransitionOrderState(ctx context.Context, orderID, target string) (ack Ack, err error) {
	ctx, finish := s.begin(ctx, "transition")
	defer func() { finish(err) }()

	if !ValidID(orderID) {
		return Ack{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	name, ok := ParseState(target)
	if !ok {
		return Ack{}, unknownState(target)
	}
	record, err := s.store.FindStateByName(ctx, name)
	if errors.Is(err, ErrStateNotFound) {
		return Ack{}, unknownState(target)
	}
	if err != nil {
		return Ack{}, &StorageError{Op: "transition order", Err: err}
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFound("order", orderID, ErrOrderNotFound, err)
		}
		if !CanTransition(locked.State.Name, name) {
			return &StateTransitionError{OrderID: orderID, Current: locked.State.Name, Target: name}
		}
		now := s.now().UTC()
		ack = Ack{OrderID: orderID, Previous: locked.State.Name, Current: name, ChangedAt: now}
		locked.State = record
		if name == StateConfirmed && locked.ConfirmationDate == nil {
			locked.ConfirmationDate = &now
		}
		locked.UpdatedAt = now
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		return Ack{}, storageErr("transition order", err)
	}

	s.publish(ctx, TopicOrderStateChanged, EventOrderStateChanged, orderID, OrderStateChangedPayload{
		OrderID:  orderID,
		Previous: ack.Previous,
		Current:  ack.Current,
	})
	return ack, nil
}

// DeleteOrder removes an order and gives its reserved quantities back to the
// products.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) (removed Order, err error) {
	ctx, finish := s.begin(ctx, "delete")
	defer func() { finish(err) }()

	if !ValidID(orderID) {
		return Order{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFound("order", orderID, ErrOrderNotFound, err)
		}
		if err := adjustStock(ctx, tx, stockDelta(locked.Items, nil)); err != nil {
			return err
		}
		removed = locked
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return Order{}, storageErr("delete order", err)
	}

	s.publish(ctx, TopicOrderDeleted, EventOrderDeleted, orderID, OrderDeletedPayload{
		OrderID:  orderID,
		Released: toItemQty(removed.Items),
	})
	return removed, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.findOrder(ctx, orderID)
}

func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	list, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, &StorageError{Op: "list orders", Err: err}
	}
	return list, nil
}

func (s *Service) ListStates(ctx context.Context) ([]StateRecord, error) {
	list, err := s.store.ListStates(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list states", Err: err}
	}
	return list, nil
}

func (s *Service) GetState(ctx context.Context, id string) (StateRecord, error) {
	if !ValidID(id) {
		return StateRecord{}, &NotFoundError{Kind: "order state", ID: id}
	}
	rec, err := s.store.FindStateByID(ctx, id)
	if err != nil {
		return StateRecord{}, storageErr("get state", notFound("order state", id, ErrStateNotFound, err))
	}
	return rec, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	if !ValidID(id) {
		return Product{}, &NotFoundError{Kind: "product", ID: id}
	}
	p, err := s.store.FindProduct(ctx, id)
	if err != nil {
		return Product{}, storageErr("get product", notFound("product", id, ErrProductNotFound, err))
	}
	return p, nil
}

// SeedStates makes sure every order state row exists.
func (s *Service) SeedStates(ctx context.Context) error {
	if err := s.store.SeedStates(ctx); err != nil {
		return &StorageError{Op: "seed states", Err: err}
	}
	return nil
}

func (s *Service) findOrder(ctx context.Context, orderID string) (Order, error) {
	if !ValidID(orderID) {
		return Order{}, &NotFoundError{Kind: "order", ID: orderID}
	}
	o, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		return Order{}, storageErr("get order", notFound("order", orderID, ErrOrderNotFound, err))
	}
	return o, nil
}

func (s *Service) checkUser(ctx context.Context, userID string, reasons Reasons) error {
	if userID == "" {
		reasons.Add(ReasonUser, "user is required")
		return nil
	}
	if !ValidID(userID) {
		reasons.Add(ReasonUser, "user id %q is not a valid identifier", userID)
		return nil
	}
	_, err := s.store.FindUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		reasons.Add(ReasonUser, "user with id equal to %s could not be found", userID)
		return nil
	}
	return err
}

// checkQuantities runs on the raw request items so a non-positive entry
// cannot hide behind a duplicate of the same product.
func checkQuantities(items []LineItem, reasons Reasons) {
	for _, it := range items {
		if it.Quantity < 1 {
			reasons.Add(ReasonProducts, "quantity of product %s must be at least 1, got %d", it.ProductID, it.Quantity)
		}
	}
}

// checkItems validates normalized items. released holds quantities that the
// operation gives back before reserving, so they count as available.
func (s *Service) checkItems(ctx context.Context, items []LineItem, released map[string]int, reasons Reasons) error {
	if len(items) == 0 {
		reasons.Add(ReasonProducts, "each order must contain at least one product")
		return nil
	}
	for _, it := range items {
		if !ValidID(it.ProductID) {
			reasons.Add(ReasonProducts, "product id %q is not a valid identifier", it.ProductID)
			continue
		}
		p, err := s.store.FindProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			reasons.Add(ReasonProducts, "product with id equal to %s could not be found", it.ProductID)
			continue
		}
		if err != nil {
			return err
		}
		if avail := p.Available + released[it.ProductID]; avail < it.Quantity {
			reasons.Add(ReasonProducts, "insufficient stock for product %s: requested %d, available %d", it.ProductID, it.Quantity, avail)
		}
	}
	return nil
}

// stockDelta is the per-product change in available count when an order's
// items go from old to next. Positive values release stock.
func stockDelta(old, next []LineItem) map[string]int {
	delta := make(map[string]int)
	for id, q := range quantities(old) {
		delta[id] += q
	}
	for id, q := range quantities(next) {
		delta[id] -= q
	}
	for id, d := range delta {
		if d == 0 {
			delete(delta, id)
		}
	}
	return delta
}

// adjustStock applies delta under row locks taken in ascending id order, so
// two transactions sharing products cannot deadlock. A count that would drop
// below zero fails the whole transaction.
func adjustStock(ctx context.Context, tx Tx, delta map[string]int) error {
	ids := make([]string, 0, len(delta))
	for id := range delta {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reasons := Reasons{}
	for _, id := range ids {
		p, err := tx.LockProduct(ctx, id)
		if errors.Is(err, ErrProductNotFound) {
			reasons.Add(ReasonProducts, "product with id equal to %s could not be found", id)
			continue
		}
		if err != nil {
			return err
		}
		next := p.Available + delta[id]
		if next < 0 {
			reasons.Add(ReasonProducts, "insufficient stock for product %s: requested %d, available %d", id, -delta[id], p.Available)
			continue
		}
		if err := tx.SetProductAvailable(ctx, id, next); err != nil {
			return err
		}
	}
	if !reasons.Empty() {
		return &ReferentialError{Reasons: reasons}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	// The transaction is already committed; a lost event must not fail the call.
	if err := s.events.PublishEvent(ctx, topic, env); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("topic", topic),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "orders."+op)
	start := time.Now()
	return ctx, func(err error) {
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("orders.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		s.recorder.ObserveOperation(op, outcome, time.Since(start))

		switch {
		case err == nil:
			s.logger.Debug("order operation", zap.String("op", op))
		case IsStorageError(err):
			s.logger.Error("order operation failed", zap.String("op", op), zap.Error(err))
		default:
			s.logger.Info("order operation rejected", zap.String("op", op), zap.String("outcome", outcome), zap.Error(err))
		}
	}
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsReferentialError(err):
		return "invalid_reference"
	case IsStateTransitionError(err):
		return "invalid_state"
	case IsNotFoundError(err):
		return "not_found"
	case IsStorageError(err):
		return "storage_error"
	default:
		return "error"
	}
}

// ValidID reports whether id is a well-formed identifier.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(kind, id string, sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func unknownState(name string) error {
	reasons := Reasons{}
	reasons.Add(ReasonOrderState, "state %q not found", name)
	return &ReferentialError{Reasons: reasons}
}
