// Package app assembles the services shared by cmd/api and cmd/worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/config"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/jobs"
	kafkax "github.com/ariefcatur/go-fresh-orders/internal/kafka"
	"github.com/ariefcatur/go-fresh-orders/internal/memstore"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/ariefcatur/go-fresh-orders/internal/postgres"
	"github.com/ariefcatur/go-fresh-orders/internal/ratelimit"
	"github.com/ariefcatur/go-fresh-orders/internal/redisx"
	"github.com/ariefcatur/go-fresh-orders/internal/store"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Store   store.Store
	Redis   *redis.Client // nil when REDIS_ADDR is unset
	Gateway payment.Gateway

	Inventory *inventory.Ledger
	Credits   *credits.Ledger
	Checkout  *checkout.Service
	Delivery  *delivery.Service
	Settler   *payout.Settler
	Jobs      *jobs.Runner
	Limiter   ratelimit.Limiter

	producer *kafkax.Producer
}

// Build connects the backends and wires the services. suffix distinguishes
// the producer name of each binary in event envelopes.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, suffix string) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set, using in-memory store")
		a.Store = memstore.New()
	} else {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.Store = postgres.New(pool)
	}
	if err := a.Store.Migrate(ctx); err != nil {
		a.Store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var events orders.Publisher = orders.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName+suffix, 1024, logger)
		a.producer.Start()
		events = a.producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, events are dropped")
	}

	if cfg.Payment.Mock {
		a.Gateway = payment.NewMock()
	} else {
		a.Gateway = payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout)
	}

	a.Inventory = inventory.New(a.Store, logger)
	a.Credits = credits.New(a.Store, logger)
	a.Credits.Events = events

	a.Checkout = checkout.New(a.Store, a.Inventory, a.Credits, a.Gateway, events, logger)
	a.Checkout.Currency = cfg.Payment.Currency
	a.Checkout.CancelWindow = cfg.CancelWindow
	a.Checkout.GatewayTimeout = cfg.Payment.Timeout
	a.Checkout.EventGrace = cfg.Payment.EventGrace
	a.Checkout.Shares = payout.Shares{Seller: cfg.Payouts.SellerShare, CollectionPoint: cfg.Payouts.CollectionShare}

	a.Delivery = delivery.New(a.Store, events, logger)
	a.Delivery.Limits = delivery.Limits{Min: cfg.Batching.Min, Target: cfg.Batching.Target, Max: cfg.Batching.Max}

	a.Settler = &payout.Settler{
		Store:       a.Store,
		Transfers:   a.Gateway,
		Events:      events,
		Logger:      logger,
		MaxAttempts: cfg.Payouts.MaxAttempts,
		BatchSize:   cfg.Payouts.BatchSize,
		Timeout:     cfg.Payouts.Timeout,
		Retries:     cfg.Payouts.Retries,
	}

	var locker jobs.Locker
	if cfg.RedisAddr != "" {
		a.Redis = redisx.New(cfg.RedisAddr, cfg.RedisPassword)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		rl := redisx.Locker{Client: a.Redis}
		locker = rl
		a.Limiter = ratelimit.NewRedis(a.Redis, cfg.RateLimit, cfg.RateWindow)
		a.Checkout.Locker = rl
		a.Checkout.Dedup = redisx.Dedup{Client: a.Redis, Service: cfg.ServiceName + "-payments"}
	} else {
		logger.Warn("REDIS_ADDR not set, limits and locks are process-local")
		a.Limiter = ratelimit.NewMemory(cfg.RateLimit, cfg.RateWindow)
	}
	a.Checkout.Limiter = a.Limiter
	a.Jobs = jobs.NewRunner(locker, logger)

	return a, nil
}

// Dedup returns a processed-id set for service, or nil without Redis.
func (a *App) Dedup(service string) checkout.Deduper {
	if a.Redis == nil {
		return nil
	}
	return redisx.Dedup{Client: a.Redis, Service: a.Config.ServiceName + "-" + service}
}

// Close flushes queued events and then releases the backends.
func (a *App) Close() {
	if a.producer != nil {
		a.producer.Close()
		a.producer.WaitClosed()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.Store.Close()
}
