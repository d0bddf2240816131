// Package notify delivers buyer-facing messages. Delivery channels (email,
// push) live outside this service; Log is the default sink.
package notify

import (
	"context"
	"log/slog"
)

type Message struct {
	RecipientID string
	OrderID     string
	Template    string
	Data        map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Log writes each message to the structured log.
type Log struct{ Logger *slog.Logger }

func (l Log) Notify(_ context.Context, m Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"recipient_id", m.RecipientID, "order_id", m.OrderID, "template", m.Template}
	for k, v := range m.Data {
		attrs = append(attrs, k, v)
	}
	logger.Info("notification", attrs...)
	return nil
}
