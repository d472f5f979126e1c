// Package events connects orders.EventPublisher to the configured broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/rabbitmq"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Headers lists the broker headers that describe env.
func Headers(env orders.Envelope) map[string]string {
	return map[string]string{
		HeaderEventType:    env.EventType,
		HeaderEventVersion: strconv.Itoa(env.EventVersion),
	}
}

// Message renders env as a kafka message keyed by order id.
func Message(topic string, env orders.Envelope) (kafkago.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	m := kafkago.Message{Topic: topic, Key: orders.PartitionKey(env.CorrelationID), Value: b}
	for k, v := range Headers(env) {
		m.Headers = append(m.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return m, nil
}

type kafkaSink interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

type KafkaPublisher struct {
	p kafkaSink
}

func NewKafkaPublisher(p *kafkax.Producer) *KafkaPublisher { return &KafkaPublisher{p: p} }

func (k *KafkaPublisher) PublishEvent(_ context.Context, topic string, env orders.Envelope) error {
	m, err := Message(topic, env)
	if err != nil {
		return err
	}
	return k.p.Publish(m.Topic, m.Key, m.Value, m.Headers...)
}

type rabbitSink interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte, headers map[string]string) error
}

type RabbitPublisher struct {
	p rabbitSink
}

func NewRabbitPublisher(p *rabbitmq.Publisher) *RabbitPublisher { return &RabbitPublisher{p: p} }

// PublishEvent uses the topic as routing key.
func (r *RabbitPublisher) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	return r.p.Publish(ctx, topic, env.EventID, b, Headers(env))
}

// New builds the publisher selected by cfg.EventsDriver. The returned close
// func flushes and releases the broker connection.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (orders.EventPublisher, func(), error) {
	switch strings.ToLower(cfg.EventsDriver) {
	case "", "none":
		return orders.NopPublisher(), func() {}, nil
	case "kafka":
		p := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		p.Start(ctx)
		return NewKafkaPublisher(p), func() { p.Close(); p.WaitClosed() }, nil
	case "rabbitmq":
		p, err := rabbitmq.Dial(rabbitmq.Config{URL: cfg.RabbitURL, Exchange: cfg.RabbitExchange}, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewRabbitPublisher(p), func() {
			if err := p.Close(); err != nil {
				logger.Warn("rabbitmq close", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}
