package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/orchestrator"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
	"github.com/alanyoungcy/marketwatch/internal/server"
	"github.com/alanyoungcy/marketwatch/internal/server/handler"
	"github.com/alanyoungcy/marketwatch/internal/server/ws"
	"github.com/alanyoungcy/marketwatch/internal/service"
)

func (a *App) request() (resolver.Request, orchestrator.Mode, error) {
	mode, err := orchestrator.ParseMode(a.cfg.Tracker.MarketMode)
	if err != nil {
		return resolver.Request{}, "", err
	}
	return resolver.Request{Input: a.cfg.Tracker.Market, Category: a.cfg.Tracker.Category}, mode, nil
}

// TrackMode follows the configured market, streams its books into the
// virtual wallet and serves the API when enabled.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	req, mode, err := a.request()
	if err != nil {
		return fmt.Errorf("track mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	opts := []service.Option{
		service.WithOrderbookCache(deps.BookCache),
		service.WithPriceCache(deps.PriceCache),
		service.WithMarketCache(deps.MarketCache),
		service.WithMarketStore(deps.Markets),
		service.WithAuditStore(deps.Audit),
		service.WithLedgerStore(deps.Ledger),
		service.WithPublisher(deps.SignalBus),
	}
	if deps.Archiver != nil {
		opts = append(opts, service.WithArchive(deps.Archiver))
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	if deps.Notifier.Enabled() {
		opts = append(opts, service.WithAlerter(deps.Notifier))
	}
	if deps.SignalBus != nil {
		defer deps.Wallet.OnTransaction(a.appendLedgerStream(ctx, deps.SignalBus))()
	}

	var (
		hub     *ws.Hub
		tracker *service.Tracker
	)
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.SignalBus, func() any { return tracker.Status() }, a.logger)
		if deps.SignalBus == nil {
			opts = append(opts, service.WithPublisher(hub))
		}
	}
	tracker = service.NewTracker(deps.Orchestrator, deps.Stream, deps.Wallet, a.logger, opts...)

	if hub != nil {
		g.Go(func() error { return hub.Run(ctx) })
		a.startHTTPServer(ctx, g, deps, tracker, hub)
	}
	g.Go(func() error { return tracker.Run(ctx, req, mode) })
	return g.Wait()
}

// appendLedgerStream mirrors every fill onto the replayable ledger stream.
func (a *App) appendLedgerStream(ctx context.Context, bus domain.SignalBus) func(domain.TransactionRecord) {
	return func(tx domain.TransactionRecord) {
		payload, err := json.Marshal(tx)
		if err != nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := bus.StreamAppend(sctx, domain.StreamLedger, payload); err != nil {
			a.logger.WarnContext(ctx, "app: ledger stream append failed",
				slog.String("tx_id", tx.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ResolveMode resolves the configured input once and prints the metadata.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	req, _, err := a.request()
	if err != nil {
		return fmt.Errorf("resolve mode: %w", err)
	}
	pattern, err := deps.Resolver.Pattern(req)
	if err != nil {
		return fmt.Errorf("resolve mode: %w", err)
	}
	meta, err := deps.Resolver.Resolve(ctx, req)
	if err != nil {
		return fmt.Errorf("resolve mode: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Pattern domain.MarketPattern  `json:"pattern"`
		Market  domain.MarketMetadata `json:"market"`
	}{pattern, meta})
}

// startHTTPServer adds the API server and its shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, tracker *service.Tracker, hub *ws.Hub) {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger, deps.Checks...),
		Markets: handler.NewMarketHandler(tracker, deps.Markets, a.logger),
		Wallet:  handler.NewWalletHandler(deps.Wallet, tracker, deps.Ledger, a.logger),
		Hub:     hub,
	}
	if deps.BlobReader != nil {
		h.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, h, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
