package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "MARKETWATCH_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "MARKETWATCH_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsURL, "MARKETWATCH_POLYMARKET_WS_URL")
	setFloat64(&cfg.Polymarket.RateLimit, "MARKETWATCH_POLYMARKET_RATE_LIMIT")
	setInt(&cfg.Polymarket.RateBurst, "MARKETWATCH_POLYMARKET_RATE_BURST")
	setStr(&cfg.Polymarket.SeriesID, "MARKETWATCH_POLYMARKET_SERIES_ID")

	// ── Tracker ──
	setStr(&cfg.Tracker.Market, "MARKETWATCH_TRACKER_MARKET")
	setStr(&cfg.Tracker.MarketMode, "MARKETWATCH_TRACKER_MARKET_MODE")
	setStr(&cfg.Tracker.Category, "MARKETWATCH_TRACKER_CATEGORY")
	setBool(&cfg.Tracker.EnrichFees, "MARKETWATCH_TRACKER_ENRICH_FEES")

	// ── Poller ──
	setDuration(&cfg.Poller.Interval, "MARKETWATCH_POLLER_INTERVAL")
	setDuration(&cfg.Poller.ExpiringThreshold, "MARKETWATCH_POLLER_EXPIRING_THRESHOLD")
	setFloat64(&cfg.Poller.BackoffMultiplier, "MARKETWATCH_POLLER_BACKOFF_MULTIPLIER")
	setInt(&cfg.Poller.MaxRetries, "MARKETWATCH_POLLER_MAX_RETRIES")

	// ── Stream ──
	setDuration(&cfg.Stream.ReconnectDelay, "MARKETWATCH_STREAM_RECONNECT_DELAY")
	setDuration(&cfg.Stream.Heartbeat, "MARKETWATCH_STREAM_HEARTBEAT")

	// ── Wallet ──
	setStr(&cfg.Wallet.InitialBalance, "MARKETWATCH_WALLET_INITIAL_BALANCE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MARKETWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MARKETWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MARKETWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETWATCH_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "MARKETWATCH_REDIS_SNAPSHOT_TTL")
	setDuration(&cfg.Redis.MarketTTL, "MARKETWATCH_REDIS_MARKET_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETWATCH_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "MARKETWATCH_S3_PREFIX")
	setDuration(&cfg.S3.FlushInterval, "MARKETWATCH_S3_FLUSH_INTERVAL")
	setInt(&cfg.S3.BatchSize, "MARKETWATCH_S3_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARKETWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKETWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETWATCH_SERVER_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "MARKETWATCH_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "MARKETWATCH_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETWATCH_MODE")
	setStr(&cfg.LogLevel, "MARKETWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
