package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Tracker.Market = "btc-updown-15m-1770220800"
	return cfg
}

func TestDefaultsValidateOnceMarketSet(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "tracker: market")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Poller.Interval = duration{100 * time.Millisecond}
	cfg.Poller.MaxRetries = 0
	cfg.Wallet.InitialBalance = "lots"
	cfg.Tracker.Category = "5m"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "poller: interval", "poller: max_retries", "wallet: initial_balance", "tracker: unknown category"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestOptionalBackendsOnlyValidatedWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = ""
	cfg.Redis.Addr = ""
	require.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	cfg.Redis.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "resolve"

[tracker]
market = "https://polymarket.com/event/eth-updown-1h-1770220800"
market_mode = "rolling"

[poller]
interval = "45s"
backoff_multiplier = 2.0
`), 0o600))

	t.Setenv("MARKETWATCH_POLLER_MAX_RETRIES", "4")
	t.Setenv("MARKETWATCH_WALLET_INITIAL_BALANCE", "250.50")
	t.Setenv("MARKETWATCH_SERVER_CORS_ORIGINS", "http://a, ,http://b")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "resolve", cfg.Mode)
	assert.Equal(t, "rolling", cfg.Tracker.MarketMode)
	assert.Equal(t, 45*time.Second, cfg.Poller.Interval.Duration)
	assert.Equal(t, 2.0, cfg.Poller.BackoffMultiplier)
	assert.Equal(t, 4, cfg.Poller.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Poller.ExpiringThreshold.Duration)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)

	bal, err := cfg.Wallet.Balance()
	require.NoError(t, err)
	assert.Equal(t, "250.5", bal.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.DiscordWebhookURL = "https://discord/webhook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
