package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
)

var (
	ErrBufferFull = errors.New("kafka producer buffer full")
	ErrClosed     = errors.New("kafka producer closed")
)

// Producer buffers messages in memory and writes them from one goroutine.
// The writer has no fixed topic; every message names its own.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(msgs []kafka.Message, err error) {
				if err == nil {
					return
				}
				metrics.RecordSideEffectFailure("kafka")
				for _, m := range msgs {
					logging.Warn(logging.Fields{Step: "kafka.write", Message: m.Topic + "/" + string(m.Key)}, err)
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop; cancelling ctx closes the inbox and flushes it.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				logging.Warn(logging.Fields{Step: "kafka.write", Message: m.Topic}, err)
			}
		}
		_ = p.w.Close()
	}()
}

// TryPublish queues a message without blocking the caller.
func (p *Producer) TryPublish(topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- message(topic, key, value, headers):
		return nil
	default:
		return ErrBufferFull
	}
}

func message(topic string, key, value []byte, headers []kafka.Header) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the loop flushes what is buffered, then exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the buffered messages were handed to the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
