package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PICKUP_ prefix), an optional .env file, or YAML
// config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store        string `default:"postgres" usage:"Order store: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PICKUP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Timezone     string `default:"UTC" usage:"Store time zone (IANA name)"`
	Ordering     OrderingConfig
	Notify       NotifyConfig
	Digest       DigestConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// OrderingConfig tunes the reservation pipeline.
type OrderingConfig struct {
	MinWeightKg string `default:"0.5" usage:"Minimum quantity for goods sold by weight" flag:"min-weight-kg"`
	StockPolicy string `default:"floor" usage:"Stock policy on shortfall: floor or strict" flag:"stock-policy"`
}

// NotifyConfig controls post-commit notifications. Channels without
// credentials are disabled.
type NotifyConfig struct {
	Queue         string `default:"memory" usage:"Notification queue: memory or redis"`
	RedisAddr     string `default:"localhost:6379" usage:"Redis address for the redis queue"`
	RedisPassword string `usage:"Redis password"`
	RedisDB       int    `default:"0" usage:"Redis database"`
	Workers       int    `default:"2" usage:"Notification workers"`
	Buffer        int    `default:"256" usage:"Queue capacity"`
	WhatsApp      WhatsAppConfig
	SMTP          SMTPConfig
	PrinterURL    string `usage:"Label print server endpoint" flag:"printer-url"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	Token         string   `usage:"WhatsApp Cloud API access token"`
	PhoneNumberID string   `usage:"Sending phone number id"`
	BaseURL       string   `default:"https://graph.facebook.com" usage:"Graph API base URL"`
	APIVersion    string   `default:"v20.0" usage:"Graph API version"`
	Operators     []string `usage:"Operator phone numbers alerted on new orders"`
}

// Enabled reports whether the channel has credentials.
func (c WhatsAppConfig) Enabled() bool {
	return c.Token != "" && c.PhoneNumberID != ""
}

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string `usage:"SMTP host"`
	Port     int    `default:"587" usage:"SMTP port"`
	Username string `usage:"SMTP user"`
	Password string `usage:"SMTP password"`
	From     string `usage:"Sender address"`
	FromName string `default:"Fresh Pickup" usage:"Sender display name"`
}

// DigestConfig controls the daily operator digest.
type DigestConfig struct {
	Cron       string `default:"0 6 * * *" usage:"Digest schedule (cron, store time zone)"`
	LowStockKg string `default:"2" usage:"Goods at or below this stock are listed" flag:"low-stock-kg"`
}

// RateLimitConfig controls the per-client token bucket.
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

// LoadConfig loads configuration from a .env file, environment variables,
// flags and YAML config files, applies platform-specific defaults and
// validates the result.
func LoadConfig() (*Config, error) {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	return loadConfig(aconfig.Config{
		EnvPrefix: "PICKUP",
		Files:     []string{"config.yaml", "/etc/pickup/config.yaml"},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that aconfig cannot type-check.
func (c *Config) Validate() error {
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set PICKUP_DATABASE_URL or DATABASE_URL")
		}
	case "memory":
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	switch c.Notify.Queue {
	case "memory", "redis":
	default:
		return errors.Errorf("unknown notify queue %q", c.Notify.Queue)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.MinWeightKg(); err != nil {
		return err
	}
	if _, err := c.StockPolicy(); err != nil {
		return err
	}
	if _, err := c.LowStockKg(); err != nil {
		return err
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// Location returns the store time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return loc, nil
}

// MinWeightKg returns the minimum by-weight quantity.
func (c *Config) MinWeightKg() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Ordering.MinWeightKg))
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "ordering min weight")
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, errors.New("ordering min weight must be positive")
	}
	return d, nil
}

// StockPolicy returns the configured shortfall policy.
func (c *Config) StockPolicy() (stock.Policy, error) {
	return stock.ParsePolicy(c.Ordering.StockPolicy)
}

// LowStockKg returns the digest low-stock threshold.
func (c *Config) LowStockKg() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.Digest.LowStockKg))
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "digest low stock")
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PICKUP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
