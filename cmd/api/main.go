package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/app"
	"github.com/ariefcatur/go-fresh-orders/internal/auth"
	"github.com/ariefcatur/go-fresh-orders/internal/config"
	"github.com/ariefcatur/go-fresh-orders/internal/httpx"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
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

	a, err := app.Build(ctx, cfg, logger, "-api")
	if err != nil {
		logger.Error("startup", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	router := httpx.NewRouter(a.Store.Ping)
	api := &httpx.API{
		Checkout:  a.Checkout,
		Delivery:  a.Delivery,
		Credits:   a.Credits,
		Inventory: a.Inventory,
		Settler:   a.Settler,
		Jobs:      a.Jobs,
		Webhooks:  payment.Verifier{Secret: cfg.Payment.WebhookSecret, Tolerance: cfg.Payment.WebhookTolerance},
		Auth:      auth.NewVerifier(cfg.JWTSecret),
		Limiter:   a.Limiter,
		Logger:    logger,
	}
	api.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
}
