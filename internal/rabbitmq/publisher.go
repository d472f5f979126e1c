// Package rabbitmq publishes order lifecycle events to a topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultExchange = "order_exchange"

type Config struct {
	URL      string
	Exchange string
	// Attempts bounds the dial retries. Zero means 5.
	Attempts int
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *zap.Logger
}

// Dial connects with a quadratic backoff and declares the exchange.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 5
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		logger.Warn("rabbitmq dial failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch, cfg.Exchange, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zap.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends a persistent JSON message under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey, messageID string, body []byte, headers map[string]string) error {
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	p.logger.Debug("published", zap.String("exchange", p.exchange), zap.String("routing_key", routingKey))
	return nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
