package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr      string   `env:"HTTP_ADDR" envDefault:":8081"`
	PostgresDSN   string   `env:"POSTGRES_DSN"` // empty runs on the in-memory store
	PGMaxConns    int32    `env:"POSTGRES_MAX_CONNS" envDefault:"8"`
	RedisAddr     string   `env:"REDIS_ADDR"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	ServiceName   string   `env:"SERVICE_NAME" envDefault:"fresh-orders"`
	LogJSON       bool     `env:"LOG_JSON" envDefault:"false"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret     string   `env:"JWT_SECRET,required"`

	Payment  Payment  `envPrefix:"PAYMENT_"`
	Payouts  Payouts  `envPrefix:"PAYOUT_"`
	Batching Batching `envPrefix:"BATCH_"`
	Credits  Credits  `envPrefix:"CREDITS_"`
	Jobs     Jobs     `envPrefix:"JOB_"`

	RateLimit      int           `env:"RATE_LIMIT" envDefault:"10"`
	RateWindow     time.Duration `env:"RATE_WINDOW" envDefault:"1m"`
	CancelWindow   time.Duration `env:"CANCEL_WINDOW" envDefault:"24h"`
	ConsumerGroup  string        `env:"CONSUMER_GROUP" envDefault:"fresh-orders-worker"`
	ConsumerWorker int           `env:"CONSUMER_WORKERS" envDefault:"4"`
}

type Payment struct {
	BaseURL          string        `env:"BASE_URL" envDefault:"https://api.stripe.com"`
	SecretKey        string        `env:"SECRET_KEY"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	Mock             bool          `env:"MOCK" envDefault:"false"`
	Currency         string        `env:"CURRENCY" envDefault:"usd"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"10s"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	PendingTTL       time.Duration `env:"PENDING_TTL" envDefault:"30m"`
	EventGrace       time.Duration `env:"EVENT_GRACE" envDefault:"1h"`
}

type Payouts struct {
	SellerShare     decimal.Decimal `env:"SELLER_SHARE" envDefault:"0.80"`
	CollectionShare decimal.Decimal `env:"COLLECTION_SHARE" envDefault:"0.05"`
	MaxAttempts     int             `env:"MAX_ATTEMPTS" envDefault:"5"`
	BatchSize       int             `env:"BATCH_SIZE" envDefault:"100"`
	Timeout         time.Duration   `env:"TIMEOUT" envDefault:"10s"`
	Retries         uint            `env:"RETRIES" envDefault:"3"`
}

type Batching struct {
	Min    int `env:"MIN" envDefault:"5"`
	Target int `env:"TARGET" envDefault:"12"`
	Max    int `env:"MAX" envDefault:"20"`
}

// Credits configures the earned-credits award on confirmed orders.
type Credits struct {
	EarnThresholdCents int64 `env:"EARN_THRESHOLD_CENTS" envDefault:"5000"`
	EarnAmountCents    int64 `env:"EARN_AMOUNT_CENTS" envDefault:"500"`
	EarnExpiryDays     int   `env:"EARN_EXPIRY_DAYS" envDefault:"90"`
}

type Jobs struct {
	LockInterval     time.Duration `env:"LOCK_INTERVAL" envDefault:"5m"`
	GenerateInterval time.Duration `env:"GENERATE_INTERVAL" envDefault:"15m"`
	SettleInterval   time.Duration `env:"SETTLE_INTERVAL" envDefault:"10m"`
	ExpireInterval   time.Duration `env:"EXPIRE_INTERVAL" envDefault:"1m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case c.Payouts.SellerShare.IsNegative() || c.Payouts.CollectionShare.IsNegative():
		return fmt.Errorf("config: payout shares must not be negative")
	case c.Payouts.SellerShare.Add(c.Payouts.CollectionShare).GreaterThan(one):
		return fmt.Errorf("config: payout shares exceed 1")
	case c.Batching.Min <= 0 || c.Batching.Min > c.Batching.Max:
		return fmt.Errorf("config: batch min must be in 1..max")
	case c.Batching.Target < c.Batching.Min || c.Batching.Target > c.Batching.Max:
		return fmt.Errorf("config: batch target must be in min..max")
	case !c.Payment.Mock && c.Payment.SecretKey == "":
		return fmt.Errorf("config: PAYMENT_SECRET_KEY is required unless PAYMENT_MOCK is set")
	case !c.Payment.Mock && c.Payment.WebhookSecret == "":
		return fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET is required unless PAYMENT_MOCK is set")
	case c.RateLimit <= 0 || c.RateWindow <= 0:
		return fmt.Errorf("config: rate limit and window must be positive")
	}
	return nil
}

// Logger builds the process logger: JSON for log shippers, text otherwise.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if c.LogJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", c.ServiceName)
}
