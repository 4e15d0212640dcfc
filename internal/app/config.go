package app

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"TWD" usage:"ISO 4217 currency for amounts without an explicit one"`
	MaxRetries  uint   `default:"5" usage:"Attempts per use case on optimistic-lock conflicts" flag:"max-retries"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	Orders      OrdersConfig
	CouponGuard CouponGuardConfig
	Graceful    GracefulConfig
}

// RedisConfig locates the cart store.
type RedisConfig struct {
	Addr    string        `default:"localhost:6379" usage:"Redis address (KART_REDIS_ADDR or REDIS_URL)"`
	DB      int           `default:"0" usage:"Redis logical database"`
	CartTTL time.Duration `default:"720h" usage:"Idle carts expire after this long; 0 keeps them forever" flag:"cart-ttl"`
}

// KafkaConfig controls event delivery. With no brokers events are only logged.
type KafkaConfig struct {
	Brokers     string `usage:"Comma-separated Kafka seed brokers"`
	Topic       string `default:"kart.events" usage:"Topic domain events are produced to"`
	ClientID    string `default:"kart-api" usage:"Kafka client id" flag:"kafka-client-id"`
	Partitions  int32  `default:"3" usage:"Partitions when creating the topic"`
	Replication int16  `default:"1" usage:"Replication factor when creating the topic"`
}

// OrdersConfig controls checkout and payment expiry.
type OrdersConfig struct {
	AutoPromotions bool          `default:"false" usage:"Apply the best active promotion when no coupon is given" flag:"auto-promotions"`
	PaymentTimeout time.Duration `default:"30m" usage:"Unpaid orders older than this are expired" flag:"payment-timeout"`
	ExpiryInterval time.Duration `default:"1m" usage:"How often unpaid orders are scanned" flag:"expiry-interval"`
}

// CouponGuardConfig throttles customers that keep submitting unusable codes.
type CouponGuardConfig struct {
	MaxFailures int           `default:"10" usage:"Rejected coupon attempts allowed per window" flag:"coupon-max-failures"`
	Window      time.Duration `default:"10m" usage:"Coupon failure window" flag:"coupon-window"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	case c.Orders.PaymentTimeout <= 0:
		return errors.New("payment timeout must be positive")
	case c.Orders.ExpiryInterval <= 0:
		return errors.New("expiry interval must be positive")
	case c.CouponGuard.MaxFailures > 0 && c.CouponGuard.Window <= 0:
		return errors.New("coupon guard window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables (Railway, Render,
// etc.) that use standard names like DATABASE_URL, REDIS_URL and PORT onto
// the KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if raw := getenv("REDIS_URL"); raw != "" && getenv("KART_REDIS_ADDR") == "" {
		addr, db, err := parseRedisURL(raw)
		if err != nil {
			return err
		}
		c.Redis.Addr, c.Redis.DB = addr, db
	}
	return nil
}

// parseRedisURL extracts host:port and the database number from
// redis://host:port/db.
func parseRedisURL(raw string) (addr string, db int, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, errors.Wrap(err, "parse REDIS_URL")
	}
	if u.Host == "" {
		return "", 0, errors.Errorf("REDIS_URL %q has no host", raw)
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		if db, err = strconv.Atoi(p); err != nil {
			return "", 0, errors.Wrapf(err, "REDIS_URL database %q", p)
		}
	}
	return u.Host, db, nil
}
