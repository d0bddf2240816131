package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PAYMENT_MOCK", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.RateLimit != 10 || cfg.RateWindow != time.Minute || cfg.CancelWindow != 24*time.Hour {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Payouts.SellerShare.String() != "0.8" || cfg.Payouts.CollectionShare.String() != "0.05" {
		t.Fatalf("shares=%s/%s", cfg.Payouts.SellerShare, cfg.Payouts.CollectionShare)
	}
	if cfg.Batching.Min != 5 || cfg.Batching.Target != 12 || cfg.Batching.Max != 20 {
		t.Fatalf("batching=%+v", cfg.Batching)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers=%v", cfg.KafkaBrokers)
	}
	if cfg.Payment.PendingTTL != 30*time.Minute || cfg.Payment.EventGrace != time.Hour || cfg.Credits.EarnExpiryDays != 90 {
		t.Fatalf("payment=%+v credits=%+v", cfg.Payment, cfg.Credits)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing jwt secret", map[string]string{"PAYMENT_MOCK": "true"}, "JWT_SECRET"},
		{"real gateway without key", map[string]string{"JWT_SECRET": "s"}, "PAYMENT_SECRET_KEY"},
		{"real gateway without webhook secret", map[string]string{"JWT_SECRET": "s", "PAYMENT_SECRET_KEY": "sk"}, "PAYMENT_WEBHOOK_SECRET"},
		{"shares above one", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "true", "PAYOUT_SELLER_SHARE": "0.9", "PAYOUT_COLLECTION_SHARE": "0.2"}, "exceed"},
		{"negative share", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "true", "PAYOUT_COLLECTION_SHARE": "-0.1"}, "negative"},
		{"target above max", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "true", "BATCH_TARGET": "30"}, "target"},
		{"zero rate limit", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "true", "RATE_LIMIT": "0"}, "rate limit"},
		{"bad duration", map[string]string{"JWT_SECRET": "s", "PAYMENT_MOCK": "true", "CANCEL_WINDOW": "soon"}, "CancelWindow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			os.Unsetenv("JWT_SECRET")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug", ServiceName: "fresh-orders"}
	if !cfg.Logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not enabled")
	}
	cfg.LogLevel = "nonsense"
	if cfg.Logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("unknown level should fall back to info")
	}
}
