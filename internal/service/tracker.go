// Package service glues market tracking, the live orderbook stream and the
// virtual wallet together and fans lifecycle events out to the sinks.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/metrics"
	"github.com/alanyoungcy/marketwatch/internal/notify"
	"github.com/alanyoungcy/marketwatch/internal/orchestrator"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
	"github.com/alanyoungcy/marketwatch/internal/wallet"
)

const (
	defaultLedgerBatch    = 64
	defaultLedgerInterval = time.Second
	maxPendingLedger      = 10000
	bookQueueSize         = 256
	sinkTimeout           = 2 * time.Second
)

// Stream is the live orderbook feed.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	SwitchSubscription(previous, next []string) error
	OnOrderbook(fn func(domain.OrderbookSnapshot)) (remove func())
	OnError(fn func(error)) (remove func())
}

// Tracking drives market lifecycle detection.
type Tracking interface {
	Subscribe(fn domain.LifecycleHandler) (remove func())
	Start(ctx context.Context, req resolver.Request, mode orchestrator.Mode) error
	Stop()
	Polling() bool
	Pattern() domain.MarketPattern
}

// Publisher fans payloads out to live subscribers. A Publisher that also
// implements StreamAppender gets a durable copy of every lifecycle event.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StreamAppender appends to a replayable log.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Recorder accepts ledger entries for archival without blocking.
type Recorder interface {
	Record(tx domain.TransactionRecord)
}

// Alerter sends operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithOrderbookCache(c domain.OrderbookCache) Option { return func(t *Tracker) { t.books = c } }
func WithPriceCache(c domain.PriceCache) Option         { return func(t *Tracker) { t.prices = c } }
func WithMarketCache(c domain.MarketCache) Option       { return func(t *Tracker) { t.marketCache = c } }
func WithMarketStore(s domain.MarketStore) Option       { return func(t *Tracker) { t.marketStore = s } }
func WithAuditStore(s domain.AuditStore) Option         { return func(t *Tracker) { t.audit = s } }
func WithLedgerStore(s domain.TransactionStore) Option  { return func(t *Tracker) { t.ledger = s } }
func WithArchive(r Recorder) Option                     { return func(t *Tracker) { t.archive = r } }
func WithAlerter(a Alerter) Option                      { return func(t *Tracker) { t.alerts = a } }

// WithPublisher adds a live fan-out target. It may be given more than once.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) {
		if p != nil {
			t.pubs = append(t.pubs, p)
		}
	}
}

// WithLedgerBatch overrides how many ledger rows are written per batch and
// how often a partial batch is flushed.
func WithLedgerBatch(size int, interval time.Duration) Option {
	return func(t *Tracker) {
		if size > 0 {
			t.ledgerBatch = size
		}
		if interval > 0 {
			t.ledgerInterval = interval
		}
	}
}

// Tracker follows one market input, keeps the latest book per outcome token
// and simulates fills against it.
type Tracker struct {
	tracking Tracking
	stream   Stream
	wallet   *wallet.Wallet
	logger   *slog.Logger

	books       domain.OrderbookCache
	prices      domain.PriceCache
	marketCache domain.MarketCache
	marketStore domain.MarketStore
	audit       domain.AuditStore
	ledger      domain.TransactionStore
	archive     Recorder
	alerts      Alerter
	pubs        []Publisher

	ledgerBatch    int
	ledgerInterval time.Duration

	events   chan domain.LifecycleEvent
	ledgerCh chan domain.TransactionRecord
	bookCh   chan domain.OrderbookSnapshot

	mu     sync.RWMutex
	market *domain.MarketMetadata
	latest map[string]domain.OrderbookSnapshot
}

// NewTracker creates a Tracker. Every sink is optional.
func NewTracker(tracking Tracking, stream Stream, w *wallet.Wallet, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		tracking:       tracking,
		stream:         stream,
		wallet:         w,
		logger:         logger.With(slog.String("component", "tracker")),
		ledgerBatch:    defaultLedgerBatch,
		ledgerInterval: defaultLedgerInterval,
		events:         make(chan domain.LifecycleEvent, 64),
		bookCh:         make(chan domain.OrderbookSnapshot, bookQueueSize),
		latest:         make(map[string]domain.OrderbookSnapshot),
	}
	for _, o := range opts {
		o(t)
	}
	t.ledgerCh = make(chan domain.TransactionRecord, t.ledgerBatch*16)
	return t
}

// Run tracks req until ctx is done or tracking fails permanently. A
// permanent failure is returned as an error.
func (t *Tracker) Run(ctx context.Context, req resolver.Request, mode orchestrator.Mode) error {
	defer t.tracking.Subscribe(t.enqueueLifecycle)()
	defer t.wallet.OnTransaction(t.enqueueTransaction)()
	removeBook := t.stream.OnOrderbook(t.handleBook)
	removeErr := t.stream.OnError(t.handleStreamError)
	defer func() {
		removeBook()
		removeErr()
		if err := t.stream.Disconnect(); err != nil {
			t.logger.Warn("service: stream disconnect failed", slog.String("error", err.Error()))
		}
		metrics.StreamConnected.Set(0)
	}()

	if t.books != nil || t.prices != nil {
		sinkCtx, stopSinks := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.writeBooks(sinkCtx)
		}()
		defer func() {
			stopSinks()
			wg.Wait()
		}()
	}

	if err := t.stream.Connect(ctx); err != nil {
		t.logger.WarnContext(ctx, "service: initial stream connect failed, retrying in background",
			slog.String("error", err.Error()),
		)
	}

	if err := t.tracking.Start(ctx, req, mode); err != nil {
		return fmt.Errorf("service: start tracking %q: %w", req.Input, err)
	}
	defer t.tracking.Stop()

	t.logger.InfoContext(ctx, "service: tracking started",
		slog.String("input", req.Input),
		slog.String("mode", string(mode)),
		slog.Bool("polling", t.tracking.Polling()),
	)

	ticker := time.NewTicker(t.ledgerInterval)
	defer ticker.Stop()

	var pending []domain.TransactionRecord
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			t.drainLedger(flushCtx, pending)
			cancel()
			return nil

		case ev := <-t.events:
			if err := t.handleLifecycle(ctx, ev); err != nil {
				t.drainLedger(ctx, pending)
				return err
			}

		case tx := <-t.ledgerCh:
			pending = append(pending, tx)
			if len(pending) >= t.ledgerBatch {
				pending = t.flushLedger(ctx, pending)
			}

		case <-ticker.C:
			if len(pending) > 0 {
				pending = t.flushLedger(ctx, pending)
			}
			metrics.StreamConnected.Set(boolGauge(t.stream.IsConnected()))
		}
	}
}

func (t *Tracker) enqueueLifecycle(ev domain.LifecycleEvent) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("service: lifecycle queue full, dropping event", slog.String("kind", string(ev.Kind)))
	}
}

func (t *Tracker) enqueueTransaction(tx domain.TransactionRecord) {
	if t.archive != nil {
		t.archive.Record(tx)
	}
	select {
	case t.ledgerCh <- tx:
	default:
		metrics.SinkErrors.WithLabelValues("ledger_queue").Inc()
		t.logger.Warn("service: ledger queue full, dropping transaction", slog.String("tx_id", tx.ID))
	}
}

// handleLifecycle applies one event. Only a fatal error event returns an error.
func (t *Tracker) handleLifecycle(ctx context.Context, ev domain.LifecycleEvent) error {
	metrics.LifecycleEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.LifecycleDetected:
		t.switchMarket(ctx, ev)
		metrics.PollFailures.Set(0)
		metrics.TimeUntilExpiry.Set(ev.TimeUntilExpiry.Seconds())
	case domain.LifecycleActive, domain.LifecycleExpiring, domain.LifecycleExpired:
		metrics.PollFailures.Set(0)
		metrics.TimeUntilExpiry.Set(ev.TimeUntilExpiry.Seconds())
		t.logger.DebugContext(ctx, "service: market status",
			slog.String("kind", string(ev.Kind)),
			slog.String("condition_id", ev.Market.ConditionID),
			slog.Duration("time_until_expiry", ev.TimeUntilExpiry),
		)
	case domain.LifecycleError:
		metrics.PollFailures.Set(float64(ev.Failures))
		attrs := []any{slog.Int("failures", ev.Failures), slog.Bool("fatal", ev.Fatal)}
		if ev.Err != nil {
			attrs = append(attrs, slog.String("error", ev.Err.Error()))
		}
		t.logger.WarnContext(ctx, "service: poll failed", attrs...)
	}

	t.publishLifecycle(ctx, ev)
	t.alert(ctx, ev)

	if ev.Kind == domain.LifecycleError && ev.Fatal {
		return fmt.Errorf("service: tracking stopped after %d failures: %w", ev.Failures, ev.Err)
	}
	return nil
}

// switchMarket moves the stream subscription to the detected market and
// records the transition.
func (t *Tracker) switchMarket(ctx context.Context, ev domain.LifecycleEvent) {
	next := ev.Market

	t.mu.Lock()
	var previous []string
	switch {
	case ev.Previous != nil:
		previous = ev.Previous.TokenIDs()
	case t.market != nil:
		previous = t.market.TokenIDs()
	}
	for _, id := range previous {
		if !next.HasToken(id) {
			delete(t.latest, id)
		}
	}
	t.market = &next
	t.mu.Unlock()

	if err := t.stream.SwitchSubscription(previous, next.TokenIDs()); err != nil {
		t.logger.WarnContext(ctx, "service: switch subscription failed, retried on reconnect",
			slog.String("error", err.Error()),
		)
	}
	if ev.Previous != nil {
		metrics.Rollovers.Inc()
	}

	t.logger.InfoContext(ctx, "service: market detected",
		slog.String("condition_id", next.ConditionID),
		slog.String("slug", next.Slug),
		slog.Time("end_date", next.EndDate),
		slog.Bool("rollover", ev.Previous != nil),
	)

	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	if t.marketCache != nil {
		if err := t.marketCache.Set(sctx, next); err != nil {
			t.sinkFailed(ctx, "market_cache", err)
		}
	}
	if t.marketStore != nil {
		if err := t.marketStore.Upsert(sctx, next); err != nil {
			t.sinkFailed(ctx, "market_store", err)
		}
	}
	if t.audit != nil {
		detail := map[string]any{
			"condition_id": next.ConditionID,
			"slug":         next.Slug,
			"end_date":     next.EndDate.UTC().Format(time.RFC3339),
			"tokens":       next.TokenIDs(),
		}
		if ev.Previous != nil {
			detail["previous_condition_id"] = ev.Previous.ConditionID
		}
		if err := t.audit.Log(sctx, "market_detected", detail); err != nil {
			t.sinkFailed(ctx, "audit", err)
		}
	}
}

// handleBook runs on the stream read goroutine. Cache writes are queued for
// writeBooks; a snapshot that finds the queue full is dropped.
func (t *Tracker) handleBook(snap domain.OrderbookSnapshot) {
	t.mu.Lock()
	if t.market == nil || !t.market.HasToken(snap.AssetID) {
		t.mu.Unlock()
		return
	}
	outcome := outcomeOf(*t.market, snap.AssetID)
	t.latest[snap.AssetID] = snap
	t.mu.Unlock()

	metrics.BookUpdates.WithLabelValues(outcome).Inc()

	mid, ok := snap.MidPrice()
	if ok && t.wallet.UpdatePositionPrices(snap.AssetID, mid) {
		t.observeWallet()
	}

	if t.books == nil && t.prices == nil {
		return
	}
	select {
	case t.bookCh <- snap:
	default:
		metrics.SinkErrors.WithLabelValues("book_queue").Inc()
	}
}

// writeBooks drains queued snapshots into the book and price caches until ctx
// is done.
func (t *Tracker) writeBooks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-t.bookCh:
			t.storeBook(ctx, snap)
		}
	}
}

func (t *Tracker) storeBook(ctx context.Context, snap domain.OrderbookSnapshot) {
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if t.books != nil {
		if err := t.books.SetSnapshot(sctx, snap); err != nil {
			t.sinkFailed(ctx, "orderbook_cache", err)
		}
	}
	if t.prices == nil {
		return
	}
	if mid, ok := snap.MidPrice(); ok {
		if err := t.prices.SetPrice(sctx, snap.AssetID, mid, snap.Timestamp); err != nil {
			t.sinkFailed(ctx, "price_cache", err)
		}
	}
}

func (t *Tracker) handleStreamError(err error) {
	metrics.StreamReconnects.Inc()
	metrics.StreamConnected.Set(0)
	t.logger.Warn("service: stream error", slog.String("error", err.Error()))
}

// Buy simulates a buy of size shares of tokenID against the latest book. A
// nil limit is a market order.
func (t *Tracker) Buy(ctx context.Context, tokenID string, size decimal.Decimal, limit *decimal.Decimal) (domain.VirtualOrder, error) {
	m, book, err := t.quote(tokenID, limit)
	if err != nil {
		return domain.VirtualOrder{}, err
	}
	o := t.wallet.SimulateBuy(tokenID, size, m.Fees(), book, limit)
	t.recordOrder(ctx, o)
	return o, nil
}

// Sell simulates a sell of size shares of tokenID against the latest book.
func (t *Tracker) Sell(ctx context.Context, tokenID string, size decimal.Decimal, limit *decimal.Decimal) (domain.VirtualOrder, error) {
	m, book, err := t.quote(tokenID, limit)
	if err != nil {
		return domain.VirtualOrder{}, err
	}
	o := t.wallet.SimulateSell(tokenID, size, m.Fees(), book, limit)
	t.recordOrder(ctx, o)
	return o, nil
}

func (t *Tracker) quote(tokenID string, limit *decimal.Decimal) (domain.MarketMetadata, domain.OrderbookSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.market == nil {
		return domain.MarketMetadata{}, domain.OrderbookSnapshot{}, fmt.Errorf("service: quote: %w", domain.ErrMarketNotFound)
	}
	m := *t.market
	if !m.HasToken(tokenID) {
		return m, domain.OrderbookSnapshot{}, fmt.Errorf("service: quote: %w: token %s is not an outcome of %s",
			domain.ErrInvalidInput, tokenID, m.ConditionID)
	}
	if limit != nil && !domain.ValidPrice(*limit, m.TickSize) {
		return m, domain.OrderbookSnapshot{}, fmt.Errorf("service: quote: %w: limit %s is off tick %s",
			domain.ErrInvalidInput, limit, m.TickSize)
	}
	book, ok := t.latest[tokenID]
	if !ok {
		book = domain.OrderbookSnapshot{AssetID: tokenID}
	}
	return m, book, nil
}

func (t *Tracker) recordOrder(ctx context.Context, o domain.VirtualOrder) {
	metrics.OrdersTotal.WithLabelValues(string(o.Side), string(o.Status)).Inc()
	if o.Filled() {
		f, _ := o.FilledSize.Float64()
		metrics.FilledVolume.WithLabelValues(string(o.Side)).Add(f)
		t.observeWallet()
	} else {
		metrics.OrderRejections.WithLabelValues(string(o.Reason)).Inc()
	}

	t.logger.InfoContext(ctx, "service: simulated order",
		slog.String("order_id", o.ID),
		slog.String("token_id", o.TokenID),
		slog.String("side", string(o.Side)),
		slog.String("status", string(o.Status)),
		slog.String("reason", string(o.Reason)),
		slog.String("filled", o.FilledSize.String()),
		slog.String("avg_price", o.AvgFillPrice.String()),
	)

	payload, err := json.Marshal(o)
	if err != nil {
		return
	}
	t.publish(ctx, domain.ChannelOrders, payload)
}

func (t *Tracker) observeWallet() {
	bal, _ := t.wallet.Balance().Float64()
	metrics.WalletBalance.Set(bal)
	realized, unrealized, total := t.wallet.TotalPnL()
	r, _ := realized.Float64()
	u, _ := unrealized.Float64()
	tot, _ := total.Float64()
	metrics.WalletPnL.WithLabelValues("realized").Set(r)
	metrics.WalletPnL.WithLabelValues("unrealized").Set(u)
	metrics.WalletPnL.WithLabelValues("total").Set(tot)
}

// flushLedger writes pending and returns what is still unwritten.
func (t *Tracker) flushLedger(ctx context.Context, pending []domain.TransactionRecord) []domain.TransactionRecord {
	if t.ledger == nil || len(pending) == 0 {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := t.ledger.InsertBatch(sctx, pending); err != nil {
		t.sinkFailed(ctx, "ledger", err)
		if len(pending) > maxPendingLedger {
			pending = pending[len(pending)-maxPendingLedger:]
		}
		return pending
	}
	return nil
}

// drainLedger flushes pending plus anything still queued.
func (t *Tracker) drainLedger(ctx context.Context, pending []domain.TransactionRecord) {
	for {
		select {
		case tx := <-t.ledgerCh:
			pending = append(pending, tx)
		default:
			t.flushLedger(ctx, pending)
			return
		}
	}
}

func (t *Tracker) publishLifecycle(ctx context.Context, ev domain.LifecycleEvent) {
	payload, err := json.Marshal(newLifecycleMessage(ev))
	if err != nil {
		return
	}
	t.publish(ctx, domain.ChannelLifecycle, payload)

	for _, p := range t.pubs {
		sa, ok := p.(StreamAppender)
		if !ok {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sa.StreamAppend(sctx, domain.StreamLifecycle, payload); err != nil {
			t.sinkFailed(ctx, "lifecycle_log", err)
		}
		cancel()
	}
}

func (t *Tracker) publish(ctx context.Context, channel string, payload []byte) {
	for _, p := range t.pubs {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := p.Publish(sctx, channel, payload); err != nil {
			t.sinkFailed(ctx, "publish", err)
		}
		cancel()
	}
}

func (t *Tracker) alert(ctx context.Context, ev domain.LifecycleEvent) {
	if t.alerts == nil {
		return
	}
	event, title, msg, ok := notify.Alert(ev)
	if !ok {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := t.alerts.Notify(actx, event, title, msg); err != nil {
			metrics.SinkErrors.WithLabelValues("notify").Inc()
		}
	}()
}

func (t *Tracker) sinkFailed(ctx context.Context, sink string, err error) {
	metrics.SinkErrors.WithLabelValues(sink).Inc()
	t.logger.WarnContext(ctx, "service: sink write failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
}

// CurrentMarket returns the market being tracked.
func (t *Tracker) CurrentMarket() (domain.MarketMetadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.market == nil {
		return domain.MarketMetadata{}, false
	}
	return *t.market, true
}

// Book returns the latest snapshot received for tokenID.
func (t *Tracker) Book(tokenID string) (domain.OrderbookSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.latest[tokenID]
	return b, ok
}

// Wallet returns the virtual wallet.
func (t *Tracker) Wallet() *wallet.Wallet {
	return t.wallet
}

// Status is a point-in-time view of tracking.
type Status struct {
	Market          *domain.MarketMetadata `json:"market,omitempty"`
	Pattern         domain.MarketPattern   `json:"pattern"`
	Polling         bool                   `json:"polling"`
	StreamConnected bool                   `json:"stream_connected"`
	Books           int                    `json:"books"`
}

// Status reports what is being tracked.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	var m *domain.MarketMetadata
	if t.market != nil {
		cp := *t.market
		m = &cp
	}
	books := len(t.latest)
	t.mu.RUnlock()

	return Status{
		Market:          m,
		Pattern:         t.tracking.Pattern(),
		Polling:         t.tracking.Polling(),
		StreamConnected: t.stream.IsConnected(),
		Books:           books,
	}
}

func outcomeOf(m domain.MarketMetadata, tokenID string) string {
	yes, no, ok := m.OutcomeTokens()
	switch {
	case ok && tokenID == yes:
		return "yes"
	case ok && tokenID == no:
		return "no"
	}
	return "other"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
