package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed. Wrap an error with Permanent to skip the message.
type Handler func(ctx context.Context, env orders.Envelope) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix.
func Permanent(err error) error { return &permanentError{err: err} }

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Consumer struct {
	r       *kafka.Reader
	topic   string
	workers int
	logger  *slog.Logger

	// MaxElapsed bounds retries of one message before the consumer stops.
	MaxElapsed time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{r: r, topic: topic, workers: workers, logger: logger.With("topic", topic), MaxElapsed: 10 * time.Minute}
}

// Start fetches until ctx ends. Messages of one partition always go to the
// same worker, so a partition's offsets are committed in order and a
// message that keeps failing holds back only its own partition.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := c.process(ctx, h, m); err != nil {
					cancel(err)
					return
				}
			}
		}(lanes[i])
	}
	stop := func() error {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
		if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stop()
			}
			_ = stop()
			return err
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-ctx.Done():
			return stop()
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) error {
	log := c.logger.With("partition", m.Partition, "offset", m.Offset)
	env, err := UnmarshalEnvelope(m.Value)
	if err != nil {
		log.Error("undecodable message skipped", "err", err)
		return c.commit(ctx, m)
	}
	log = log.With("event_id", env.EventID, "event_type", env.EventType)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := h(ctx, env)
		if IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.MaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("handler failed, retrying", "err", err, "in", d)
		}),
	)
	var perm *permanentError
	switch {
	case err == nil:
	case errors.As(err, &perm):
		log.Error("message skipped", "err", perm.err)
	case ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("%s offset %d: %w", c.topic, m.Offset, err)
	}
	return c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) error {
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		return fmt.Errorf("commit %s offset %d: %w", c.topic, m.Offset, err)
	}
	return nil
}
