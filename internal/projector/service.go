// Package projector consumes order lifecycle events and keeps the read-side
// cache consistent with the order store.
package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type ViewCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Cache  ViewCache
	Dedup  Deduper
	Logger *zap.Logger
}

// HandleOrderEvent is installed as the consumer handler. A nil return lets
// the consumer commit the offset.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// poison message, nothing to retry
		s.logger().Warn("dropping undecodable event", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}

	orderID, err := orderIDOf(env)
	if err != nil {
		s.logger().Warn("dropping event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if orderID == "" {
		return nil
	}

	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	if err := s.Cache.Invalidate(ctx, orderID); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.logger().Warn("release dedup claim", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("invalidate order %s: %w", orderID, err)
	}

	s.logger().Info("order event projected",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("order_id", orderID),
		zap.String("trace_id", env.TraceID))
	return nil
}

// orderIDOf returns "" for event types the projector does not know.
func orderIDOf(env orders.Envelope) (string, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		return p.OrderID, err
	case orders.EventOrderUpdated:
		p, err := kafkax.UnwrapPayload[orders.OrderUpdatedPayload](env.Payload)
		return p.OrderID, err
	case orders.EventOrderStateChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStateChangedPayload](env.Payload)
		return p.OrderID, err
	case orders.EventOrderDeleted:
		p, err := kafkax.UnwrapPayload[orders.OrderDeletedPayload](env.Payload)
		return p.OrderID, err
	}
	return "", nil
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
