package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/marketwatch/internal/blob/s3"
	"github.com/alanyoungcy/marketwatch/internal/cache/redis"
	"github.com/alanyoungcy/marketwatch/internal/config"
	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/metrics"
	"github.com/alanyoungcy/marketwatch/internal/notify"
	"github.com/alanyoungcy/marketwatch/internal/orchestrator"
	"github.com/alanyoungcy/marketwatch/internal/platform/polymarket"
	"github.com/alanyoungcy/marketwatch/internal/poller"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
	"github.com/alanyoungcy/marketwatch/internal/server/handler"
	"github.com/alanyoungcy/marketwatch/internal/store/postgres"
	"github.com/alanyoungcy/marketwatch/internal/wallet"
)

// Dependencies bundles everything the run modes need. Backends that are
// disabled in config are left nil.
type Dependencies struct {
	Resolver     orchestrator.Resolver
	Orchestrator *orchestrator.Orchestrator
	Stream       *polymarket.StreamClient
	Wallet       *wallet.Wallet

	// Caches and bus (redis)
	BookCache   domain.OrderbookCache
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	SignalBus   domain.SignalBus

	// Stores (postgres)
	Ledger  domain.TransactionStore
	Markets domain.MarketStore
	Audit   domain.AuditStore

	// Archive (s3)
	BlobReader domain.BlobReader
	Archiver   *s3blob.LedgerArchiver

	Notifier *notify.Notifier

	// Checks covers every enabled backend for /health.
	Checks []handler.Check
}

// needsBackends reports whether mode uses caches, stores and the archive.
func needsBackends(mode string) bool {
	return mode == "track"
}

// Wire constructs every dependency from cfg and returns a cleanup function
// that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Market discovery ---
	rl := polymarket.WithRateLimit(cfg.Polymarket.RateLimit, cfg.Polymarket.RateBurst)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, rl)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, rl)
	deps.Resolver = timedResolver{resolver.New(gamma, clob, logger,
		resolver.WithSeriesID(cfg.Polymarket.SeriesID),
		resolver.WithFeeEnrichment(cfg.Tracker.EnrichFees),
	)}

	orch, err := orchestrator.New(deps.Resolver, poller.Config{
		Interval:          cfg.Poller.Interval.Duration,
		ExpiringThreshold: cfg.Poller.ExpiringThreshold.Duration,
		BackoffMultiplier: cfg.Poller.BackoffMultiplier,
		MaxRetries:        cfg.Poller.MaxRetries,
	}, logger)
	if err != nil {
		return fail("orchestrator", err)
	}
	deps.Orchestrator = orch

	if !needsBackends(cfg.Mode) {
		return deps, cleanup, nil
	}

	deps.Stream = polymarket.NewStreamClient(cfg.Polymarket.WsURL, logger,
		polymarket.WithReconnectDelay(cfg.Stream.ReconnectDelay.Duration),
		polymarket.WithHeartbeat(cfg.Stream.Heartbeat.Duration),
	)

	balance, err := cfg.Wallet.Balance()
	if err != nil {
		return fail("wallet", err)
	}
	deps.Wallet = wallet.New(balance, wallet.WithLogger(logger))

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pg.RunMigrations(ctx)
			if err != nil {
				return fail("postgres migrations", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
			}
		}

		pool := pg.Pool()
		deps.Ledger = postgres.NewTransactionStore(pool)
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Ping: pg.Ping})
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  "mw:",
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.BookCache = redis.NewOrderbookCache(rc, cfg.Redis.SnapshotTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(rc)
		deps.MarketCache = redis.NewMarketCache(rc, cfg.Redis.MarketTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Ping: rc.Ping})
	}

	// --- S3 ledger archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(sc), logger,
			s3blob.WithFlushInterval(cfg.S3.FlushInterval.Duration),
			s3blob.WithBatchSize(cfg.S3.BatchSize),
		)
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Ping: sc.Health})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// timedResolver records resolution latency by outcome.
type timedResolver struct {
	*resolver.Resolver
}

func (r timedResolver) Resolve(ctx context.Context, req resolver.Request) (domain.MarketMetadata, error) {
	start := time.Now()
	m, err := r.Resolver.Resolve(ctx, req)
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrMarketNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	metrics.ResolveDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return m, err
}
