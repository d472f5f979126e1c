package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from one goroutine.
// Every message carries its own topic.
type Producer struct {
	w       messageWriter
	logger  *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range msgs {
				logger.Error("kafka write failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
			}
		},
	}
	return newProducer(w, buf, logger)
}

func newProducer(w messageWriter, buf int, logger *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:       w,
		logger:  logger,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close is called or ctx is done. Buffered
// messages are flushed before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.logger.Error("kafka write failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
			}
		}
		if err := p.w.Close(); err != nil {
			p.logger.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	return nil
}

// Close stops accepting messages. Safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the buffered messages are flushed.
func (p *Producer) WaitClosed() { <-p.closeCh }
