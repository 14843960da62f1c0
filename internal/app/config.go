package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/stripe"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PIZZARIA_ prefix), flags, a .env file, or YAML
// config files.
type Config struct {
	Addr              string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL       string `usage:"PostgreSQL connection URL (PIZZARIA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AdminAPIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"admin-api-key-pepper"`
	MaxWebhookBytes   int64  `default:"65536" usage:"Maximum accepted webhook payload size"`
	Order             OrderConfig
	Stripe            stripe.Config
	Redis             RedisConfig
	Kafka             KafkaConfig
	RateLimit         RateLimitConfig
	CORS              CORSConfig
	Graceful          GracefulConfig
}

// OrderConfig controls pricing and payment currency.
type OrderConfig struct {
	DeliveryFee string `default:"8.00" usage:"Flat delivery fee added to every order"`
	Currency    string `default:"brl" usage:"ISO currency code charged through the processor"`
}

// RedisConfig controls the idempotency key store. An empty Addr disables
// Idempotency-Key support.
type RedisConfig struct {
	Addr           string        `usage:"Redis address (host:port) or redis:// URL (PIZZARIA_REDIS_ADDR or REDIS_URL)"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long order idempotency keys are remembered"`
}

// KafkaConfig controls order event publishing. With no brokers events are
// only logged.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka broker addresses"`
	Topic        string        `default:"pizzaria.orders" usage:"Topic for order notifications"`
	WriteTimeout time.Duration `default:"5s" usage:"Per-event publish timeout"`
}

// RateLimitConfig controls the per-client rate limiter. With Redis
// configured the limit is shared by every replica.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables, flags and YAML files, and applies platform
// defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PIZZARIA",
		Files:     []string{"config.yaml", "/etc/pizzaria/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeliveryFee returns the parsed flat delivery fee.
func (c *Config) DeliveryFee() decimal.Decimal {
	// validate has already parsed it.
	fee, _ := decimal.NewFromString(c.Order.DeliveryFee)
	return fee
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PIZZARIA_DATABASE_URL or DATABASE_URL")
	}
	if c.Stripe.SecretKey == "" {
		return errors.New("stripe secret key is required: set PIZZARIA_STRIPE_SECRET_KEY or STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required: set PIZZARIA_STRIPE_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET")
	}
	if c.AdminAPIKeyPepper == "" {
		return errors.New("admin API key pepper is required: set PIZZARIA_ADMIN_API_KEY_PEPPER")
	}
	fee, err := decimal.NewFromString(c.Order.DeliveryFee)
	if err != nil {
		return errors.Wrapf(err, "parse delivery fee %q", c.Order.DeliveryFee)
	}
	if fee.IsNegative() {
		return errors.Errorf("delivery fee %s must not be negative", fee)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names to the PIZZARIA_-prefixed settings.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Redis.Addr, "REDIS_URL")
	fallback(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	fallback(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
