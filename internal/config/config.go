// Package config loads the service configuration from a YAML file, an optional
// .env file and TRAVEL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "TRAVEL"
	EnvConfigPath   = "TRAVEL_CONFIG"
	DefaultPath     = "./config.yaml"
	DefaultMaxBytes = 10 * 1024 * 1024
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Bank      BankConfig      `mapstructure:"bank"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Store     StoreConfig     `mapstructure:"store"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type BankConfig struct {
	URI             string `mapstructure:"uri"`
	PlatformAccount string `mapstructure:"platform_account"`
	TimeoutMs       int    `mapstructure:"timeout_ms"`
}

func (b BankConfig) Timeout() time.Duration { return time.Duration(b.TimeoutMs) * time.Millisecond }

type ProvidersConfig struct {
	TimeoutMs       int     `mapstructure:"timeout_ms"`
	MaxMessageBytes int64   `mapstructure:"max_message_bytes"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
	ReadAttempts    int     `mapstructure:"read_attempts"`
	CancelCacheTTL  int     `mapstructure:"cancel_cache_ttl_seconds"`

	// Credentials maps a credential reference to its secret. Viper lower-cases
	// map keys, so references are matched case-insensitively.
	Credentials map[string]string `mapstructure:"credentials"`
}

func (p ProvidersConfig) Timeout() time.Duration { return time.Duration(p.TimeoutMs) * time.Millisecond }

type CheckoutConfig struct {
	Workers               int     `mapstructure:"workers"`
	HoldTTLSeconds        int     `mapstructure:"hold_ttl_seconds"`
	VATRate               float64 `mapstructure:"vat_rate"`
	CompensationAttempts  int     `mapstructure:"compensation_attempts"`
	CompensationBackoffMs int     `mapstructure:"compensation_backoff_ms"`
	VerifyBalance         bool    `mapstructure:"verify_balance"`
}

func (c CheckoutConfig) HoldTTL() time.Duration {
	return time.Duration(c.HoldTTLSeconds) * time.Second
}

func (c CheckoutConfig) CompensationBackoff() time.Duration {
	return time.Duration(c.CompensationBackoffMs) * time.Millisecond
}

type RuleConfig struct {
	ID         string `mapstructure:"id"`
	Expression string `mapstructure:"expression"`
	Priority   int    `mapstructure:"priority"`
	AllowRetry bool   `mapstructure:"allow_retry"`
	BackoffMs  int    `mapstructure:"backoff_ms"`
}

type RetryConfig struct {
	Rules []RuleConfig `mapstructure:"rules"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EventsConfig struct {
	Driver   string   `mapstructure:"driver"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	AMQPURL  string   `mapstructure:"amqp_url"`
	Exchange string   `mapstructure:"exchange"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CatalogConfig seeds the in-memory catalog used by the memory store driver.
type CatalogConfig struct {
	Services []ServiceConfig `mapstructure:"services"`
}

type ServiceConfig struct {
	ID                int64              `mapstructure:"id"`
	Kind              string             `mapstructure:"kind"`
	Name              string             `mapstructure:"name"`
	SettlementAccount string             `mapstructure:"settlement_account"`
	Active            bool               `mapstructure:"active"`
	PreferLegacy      bool               `mapstructure:"prefer_legacy"`
	Descriptors       []DescriptorConfig `mapstructure:"descriptors"`
}

type DescriptorConfig struct {
	Family        string            `mapstructure:"family"`
	BaseURL       string            `mapstructure:"base_url"`
	CredentialRef string            `mapstructure:"credential_ref"`
	Paths         map[string]string `mapstructure:"paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("bank.uri", "")
	v.SetDefault("bank.platform_account", "")
	v.SetDefault("bank.timeout_ms", 10000)
	v.SetDefault("providers.timeout_ms", 15000)
	v.SetDefault("providers.max_message_bytes", DefaultMaxBytes)
	v.SetDefault("providers.rate_limit", 20.0)
	v.SetDefault("providers.rate_burst", 5)
	v.SetDefault("providers.read_attempts", 3)
	v.SetDefault("providers.cancel_cache_ttl_seconds", 86400)
	v.SetDefault("checkout.workers", 4)
	v.SetDefault("checkout.hold_ttl_seconds", 300)
	v.SetDefault("checkout.vat_rate", 0.12)
	v.SetDefault("checkout.compensation_attempts", 3)
	v.SetDefault("checkout.compensation_backoff_ms", 200)
	v.SetDefault("checkout.verify_balance", false)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_ms", 30000)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.topic", "travel.checkout")
	v.SetDefault("events.exchange", "travel.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("tracing.enabled", false)
}

// Path returns the config file location from TRAVEL_CONFIG or the default.
func Path(getenv func(string) string) string {
	if p := strings.TrimSpace(getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the optional .env files, then path (missing files are tolerated),
// then applies TRAVEL_* overrides and validates the result.
func Load(path string, dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		// .env is optional
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the engine cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Bank.URI) == "" {
		problems = append(problems, "bank.uri is required")
	}
	if strings.TrimSpace(c.Bank.PlatformAccount) == "" {
		problems = append(problems, "bank.platform_account is required")
	}
	if c.Checkout.Workers < 1 {
		problems = append(problems, "checkout.workers must be at least 1")
	}
	if c.Checkout.HoldTTLSeconds <= 0 {
		problems = append(problems, "checkout.hold_ttl_seconds must be positive")
	}
	if c.Checkout.VATRate < 0 || c.Checkout.VATRate >= 1 {
		problems = append(problems, "checkout.vat_rate must be in [0, 1)")
	}
	if c.Checkout.CompensationAttempts < 1 {
		problems = append(problems, "checkout.compensation_attempts must be at least 1")
	}
	if c.Providers.MaxMessageBytes <= 0 {
		problems = append(problems, "providers.max_message_bytes must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			problems = append(problems, "store.dsn is required for driver "+c.Store.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Events.Driver {
	case "none", "log":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			problems = append(problems, "events.brokers is required for kafka")
		}
	case "amqp":
		if strings.TrimSpace(c.Events.AMQPURL) == "" {
			problems = append(problems, "events.amqp_url is required for amqp")
		}
	default:
		problems = append(problems, fmt.Sprintf("events.driver %q is not supported", c.Events.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}
