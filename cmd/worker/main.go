package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/app"
	"github.com/ariefcatur/go-fresh-orders/internal/config"
	kafkax "github.com/ariefcatur/go-fresh-orders/internal/kafka"
	"github.com/ariefcatur/go-fresh-orders/internal/notify"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, "-worker")
	if err != nil {
		logger.Error("startup", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	h := &worker.Handlers{
		Credits:  a.Credits,
		Checkout: a.Checkout,
		Notifier: notify.Log{Logger: logger},
		Dedup:    a.Dedup("notify"),
		Earn: worker.EarnRule{
			ThresholdCents: cfg.Credits.EarnThresholdCents,
			AmountCents:    cfg.Credits.EarnAmountCents,
			ExpiryDays:     cfg.Credits.EarnExpiryDays,
		},
		Logger: logger,
	}

	g, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		consume := func(suffix, topic string, fn kafkax.Handler) {
			group := cfg.ConsumerGroup + "-" + suffix
			c := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, cfg.ConsumerWorker, logger)
			g.Go(func() error {
				logger.Info("consumer started", "group", group, "topic", topic, "workers", cfg.ConsumerWorker)
				return c.Start(ctx, fn)
			})
		}
		consume("credits", orders.TopicOrderConfirmed, h.HandleOrderConfirmed)
		consume("refunds", orders.TopicRefundRequested, h.HandleRefundRequested)
		consume("notify-confirmed", orders.TopicOrderConfirmed, h.HandleNotification)
		consume("notify-cancelled", orders.TopicOrderCancelled, h.HandleNotification)
		consume("notify-delivered", orders.TopicStopDelivered, h.HandleNotification)
	} else {
		logger.Warn("KAFKA_BROKERS not set, consumers disabled")
	}

	schedule := func(name string, every time.Duration, fn func(ctx context.Context) (any, error)) {
		g.Go(func() error {
			a.Jobs.Every(ctx, name, every, fn)
			return nil
		})
	}
	schedule("lock-orders", cfg.Jobs.LockInterval, func(ctx context.Context) (any, error) {
		return a.Delivery.LockDue(ctx)
	})
	schedule("generate-batches", cfg.Jobs.GenerateInterval, func(ctx context.Context) (any, error) {
		return a.Delivery.Generate(ctx, "")
	})
	schedule("settle-payouts", cfg.Jobs.SettleInterval, func(ctx context.Context) (any, error) {
		return a.Settler.Settle(ctx)
	})
	schedule("expire-pending", cfg.Jobs.ExpireInterval, func(ctx context.Context) (any, error) {
		return a.Checkout.ExpireStale(ctx, cfg.Payment.PendingTTL, 100)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
