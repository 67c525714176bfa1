// Package config defines the top-level configuration for marketwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETWATCH_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Poller     PollerConfig     `toml:"poller"`
	Stream     StreamConfig     `toml:"stream"`
	Wallet     WalletConfig     `toml:"wallet"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the discovery, exchange and feed endpoints.
type PolymarketConfig struct {
	GammaHost string  `toml:"gamma_host"`
	ClobHost  string  `toml:"clob_host"`
	WsURL     string  `toml:"ws_url"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, shared by REST clients
	RateBurst int     `toml:"rate_burst"`
	SeriesID  string  `toml:"series_id"`
}

// TrackerConfig selects the market to follow.
type TrackerConfig struct {
	// Market is a URL, event slug or condition id.
	Market string `toml:"market"`
	// MarketMode is "auto", "rolling" or "one-off".
	MarketMode string `toml:"market_mode"`
	// Category forces a rolling interval: "15m", "1h" or "4h".
	Category   string `toml:"category"`
	EnrichFees bool   `toml:"enrich_fees"`
}

// PollerConfig controls rollover polling.
type PollerConfig struct {
	Interval          duration `toml:"interval"`
	ExpiringThreshold duration `toml:"expiring_threshold"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	MaxRetries        int      `toml:"max_retries"`
}

// StreamConfig controls the market feed connection.
type StreamConfig struct {
	ReconnectDelay duration `toml:"reconnect_delay"`
	Heartbeat      duration `toml:"heartbeat"`
}

// WalletConfig configures the virtual wallet.
type WalletConfig struct {
	// InitialBalance is a decimal string in USDC.
	InitialBalance string `toml:"initial_balance"`
}

// Balance parses InitialBalance.
func (w WalletConfig) Balance() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(w.InitialBalance))
}

// PostgresConfig holds PostgreSQL connection parameters for the ledger.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
	MarketTTL   duration `toml:"market_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archive.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	FlushInterval  duration `toml:"flush_interval"`
	BatchSize      int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // guards simulated order endpoints; empty disables auth
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			WsURL:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RateLimit: 10,
			RateBurst: 5,
		},
		Tracker: TrackerConfig{
			MarketMode: "auto",
			EnrichFees: true,
		},
		Poller: PollerConfig{
			Interval:          duration{30 * time.Second},
			ExpiringThreshold: duration{60 * time.Second},
			BackoffMultiplier: 1.5,
			MaxRetries:        10,
		},
		Stream: StreamConfig{
			ReconnectDelay: duration{5 * time.Second},
			Heartbeat:      duration{30 * time.Second},
		},
		Wallet: WalletConfig{
			InitialBalance: "10000",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{5 * time.Minute},
			MarketTTL:   duration{6 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketwatch-ledger",
			ForcePathStyle: true,
			Prefix:         "marketwatch",
			FlushInterval:  duration{5 * time.Minute},
			BatchSize:      500,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			Events: []string{"market_detected", "market_expiring", "fatal_error"},
		},
		Mode:     "track",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"track":   true,
	"resolve": true,
}

var validMarketModes = map[string]bool{
	"":        true,
	"auto":    true,
	"rolling": true,
	"one-off": true,
}

var validCategories = map[string]bool{
	"":    true,
	"15m": true,
	"1h":  true,
	"4h":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: track, resolve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.WsURL == "" && strings.EqualFold(c.Mode, "track") {
		errs = append(errs, "polymarket: ws_url must not be empty for mode track")
	}
	if c.Polymarket.RateLimit <= 0 {
		errs = append(errs, "polymarket: rate_limit must be > 0")
	}
	if c.Polymarket.RateBurst < 1 {
		errs = append(errs, "polymarket: rate_burst must be >= 1")
	}

	// Tracker
	if strings.TrimSpace(c.Tracker.Market) == "" {
		errs = append(errs, "tracker: market must be set (URL, slug or condition id)")
	}
	if !validMarketModes[strings.ToLower(c.Tracker.MarketMode)] {
		errs = append(errs, fmt.Sprintf("tracker: unknown market_mode %q (valid: auto, rolling, one-off)", c.Tracker.MarketMode))
	}
	if !validCategories[strings.ToLower(c.Tracker.Category)] {
		errs = append(errs, fmt.Sprintf("tracker: unknown category %q (valid: 15m, 1h, 4h)", c.Tracker.Category))
	}

	// Poller
	if c.Poller.Interval.Duration < time.Second {
		errs = append(errs, fmt.Sprintf("poller: interval must be >= 1s, got %s", c.Poller.Interval.Duration))
	}
	if c.Poller.ExpiringThreshold.Duration < 0 {
		errs = append(errs, "poller: expiring_threshold must not be negative")
	}
	if c.Poller.BackoffMultiplier < 1 {
		errs = append(errs, "poller: backoff_multiplier must be >= 1")
	}
	if c.Poller.MaxRetries < 1 {
		errs = append(errs, "poller: max_retries must be >= 1")
	}

	// Stream
	if c.Stream.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_delay must be > 0")
	}
	if c.Stream.Heartbeat.Duration <= 0 {
		errs = append(errs, "stream: heartbeat must be > 0")
	}

	// Wallet
	if bal, err := c.Wallet.Balance(); err != nil {
		errs = append(errs, fmt.Sprintf("wallet: initial_balance %q is not a decimal", c.Wallet.InitialBalance))
	} else if bal.IsNegative() {
		errs = append(errs, "wallet: initial_balance must not be negative")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.BatchSize < 1 {
			errs = append(errs, "s3: batch_size must be >= 1")
		}
		if c.S3.FlushInterval.Duration <= 0 {
			errs = append(errs, "s3: flush_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
			errs = append(errs, "server: rate_limit and rate_burst must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
