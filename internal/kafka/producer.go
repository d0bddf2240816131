package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var (
	ErrClosed     = errors.New("kafka: producer closed")
	ErrBufferFull = errors.New("kafka: producer buffer full")
)

var _ orders.Publisher = (*Producer)(nil)

// Producer wraps domain events in an Envelope and writes them from a
// background loop, so Publish never waits on the broker.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	service string
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, service string, buf int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		service: service,
		logger:  logger,
	}
}

func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.logger.Error("kafka write failed", "topic", m.Topic, "key", string(m.Key), "err", err)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.logger.Warn("kafka writer close", "err", err)
		}
	}()
}

func (p *Producer) Publish(ctx context.Context, topic, key, eventType string, payload any) error {
	body, err := Marshal(payload)
	if err != nil {
		return err
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: key,
		Payload:       body,
	}
	value, err := Marshal(env)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   orders.PartitionKey(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events; the loop flushes what is queued and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the queue is flushed and the writer closed.
func (p *Producer) WaitClosed() { <-p.closeCh }
