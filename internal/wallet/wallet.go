// Package wallet is an in-memory matching engine that simulates taker fills
// against orderbook snapshots. No order ever leaves the process.
package wallet

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/observer"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultInitialBalance is the starting USDC balance when none is configured.
var DefaultInitialBalance = decimal.NewFromInt(10000)

// Option configures a Wallet.
type Option func(*Wallet)

// WithClock overrides the timestamp source for orders and transactions.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// WithLogger sets the wallet logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wallet) { w.logger = l }
}

// Wallet holds a USDC balance and long positions. All mutation happens
// under a single mutex; notifications are delivered after it is released.
type Wallet struct {
	logger *slog.Logger
	now    func() time.Time
	txns   observer.Registry[domain.TransactionRecord]

	mu        sync.Mutex
	initial   decimal.Decimal
	balance   decimal.Decimal
	positions map[string]*domain.VirtualPosition
	ledger    []domain.TransactionRecord
	orders    []domain.VirtualOrder
}

// New creates a wallet funded with initialBalance.
func New(initialBalance decimal.Decimal, opts ...Option) *Wallet {
	w := &Wallet{
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		initial:   initialBalance,
		balance:   initialBalance,
		positions: make(map[string]*domain.VirtualPosition),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "wallet"))
	return w
}

// OnTransaction registers a listener for every ledger entry appended.
func (w *Wallet) OnTransaction(fn func(domain.TransactionRecord)) (remove func()) {
	return w.txns.Add(fn)
}

// fill is the result of walking one side of the book.
type fill struct {
	size     decimal.Decimal
	notional decimal.Decimal
	best     decimal.Decimal
}

// walk consumes levels in the given order until size is filled or a level
// fails within. Levels with a non-positive size are ignored.
func walk(levels []domain.PriceLevel, size decimal.Decimal, within func(decimal.Decimal) bool) fill {
	var f fill
	remaining := size
	first := true
	for _, lvl := range levels {
		if !lvl.Size.IsPositive() || !lvl.Price.IsPositive() {
			continue
		}
		if first {
			f.best = lvl.Price
			first = false
		}
		if !within(lvl.Price) {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		f.size = f.size.Add(take)
		f.notional = f.notional.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			break
		}
	}
	return f
}

func newOrder(tokenID string, side domain.OrderSide, size decimal.Decimal, limit *decimal.Decimal, now time.Time) domain.VirtualOrder {
	o := domain.VirtualOrder{
		ID:            uuid.NewString(),
		TokenID:       tokenID,
		Side:          side,
		RequestedSize: size,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
	}
	if limit != nil {
		l := *limit
		o.LimitPrice = &l
	}
	return o
}

func (w *Wallet) rejectLocked(o domain.VirtualOrder, reason domain.RejectReason) domain.VirtualOrder {
	o.Status = domain.OrderStatusRejected
	o.Reason = reason
	w.orders = append(w.orders, o)
	return o
}

// rejectReason picks between no liquidity and a limit that was never met.
func rejectReason(f fill, limit *decimal.Decimal) domain.RejectReason {
	if limit != nil && !f.best.IsZero() {
		return domain.RejectLimitNotReached
	}
	return domain.RejectNoLiquidity
}

// SimulateBuy takes liquidity from the asks, cheapest first, stopping at
// a level priced above limit. Rejections are reported on the order and
// leave the wallet unchanged.
func (w *Wallet) SimulateBuy(tokenID string, size decimal.Decimal, fees domain.FeeSchedule, book domain.OrderbookSnapshot, limit *decimal.Decimal) domain.VirtualOrder {
	w.mu.Lock()
	now := w.now()
	o := newOrder(tokenID, domain.OrderSideBuy, size, limit, now)
	if !size.IsPositive() {
		o = w.rejectLocked(o, domain.RejectInvalidSize)
		w.mu.Unlock()
		return o
	}

	f := walk(book.SortedAsks(), size, func(p decimal.Decimal) bool {
		return limit == nil || !p.GreaterThan(*limit)
	})
	if !f.size.IsPositive() {
		o = w.rejectLocked(o, rejectReason(f, limit))
		w.mu.Unlock()
		w.logger.Debug("wallet: buy rejected", slog.String("token_id", tokenID), slog.String("reason", string(o.Reason)))
		return o
	}

	fee := f.notional.Mul(fees.TakerFee)
	spend := f.notional.Add(fee)
	if spend.GreaterThan(w.balance) {
		o = w.rejectLocked(o, domain.RejectInsufficientBalance)
		w.mu.Unlock()
		w.logger.Info("wallet: buy rejected",
			slog.String("token_id", tokenID),
			slog.String("reason", string(o.Reason)),
			slog.String("spend", spend.String()),
			slog.String("balance", w.Balance().String()),
		)
		return o
	}

	avg := f.notional.Div(f.size)
	o.FilledSize = f.size
	o.AvgFillPrice = avg
	o.Notional = f.notional
	o.Fee = fee
	o.Slippage = avg.Sub(f.best).Div(f.best)
	o.Status = domain.OrderStatusFilled

	w.balance = w.balance.Sub(spend)

	pos := w.positionLocked(tokenID)
	newQty := pos.Quantity.Add(f.size)
	pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).Add(f.notional).Div(newQty)
	pos.Quantity = newQty
	markLocked(pos, avg, now)

	rec := w.recordLocked(o, spend.Neg(), decimal.Zero, now)
	w.orders = append(w.orders, o)
	balance := w.balance
	w.mu.Unlock()

	w.logger.Info("wallet: buy filled",
		slog.String("token_id", tokenID),
		slog.String("size", f.size.String()),
		slog.String("avg_price", avg.StringFixed(4)),
		slog.String("fee", fee.String()),
		slog.String("balance", balance.StringFixed(2)),
	)
	w.txns.Emit(rec)
	return o
}

// SimulateSell takes liquidity from the bids, highest first, stopping at a
// level priced below limit. The position must already hold size.
func (w *Wallet) SimulateSell(tokenID string, size decimal.Decimal, fees domain.FeeSchedule, book domain.OrderbookSnapshot, limit *decimal.Decimal) domain.VirtualOrder {
	w.mu.Lock()
	now := w.now()
	o := newOrder(tokenID, domain.OrderSideSell, size, limit, now)
	if !size.IsPositive() {
		o = w.rejectLocked(o, domain.RejectInvalidSize)
		w.mu.Unlock()
		return o
	}

	pos, ok := w.positions[tokenID]
	if !ok || pos.Quantity.LessThan(size) {
		o = w.rejectLocked(o, domain.RejectInsufficientPosition)
		w.mu.Unlock()
		w.logger.Debug("wallet: sell rejected", slog.String("token_id", tokenID), slog.String("reason", string(o.Reason)))
		return o
	}

	f := walk(book.SortedBids(), size, func(p decimal.Decimal) bool {
		return limit == nil || !p.LessThan(*limit)
	})
	if !f.size.IsPositive() {
		o = w.rejectLocked(o, rejectReason(f, limit))
		w.mu.Unlock()
		w.logger.Debug("wallet: sell rejected", slog.String("token_id", tokenID), slog.String("reason", string(o.Reason)))
		return o
	}

	avg := f.notional.Div(f.size)
	fee := f.notional.Mul(fees.TakerFee)
	net := f.notional.Sub(fee)
	realized := net.Sub(pos.AvgEntryPrice.Mul(f.size))

	o.FilledSize = f.size
	o.AvgFillPrice = avg
	o.Notional = f.notional
	o.Fee = fee
	o.Slippage = f.best.Sub(avg).Div(f.best)
	o.Status = domain.OrderStatusFilled

	w.balance = w.balance.Add(net)
	pos.Quantity = pos.Quantity.Sub(f.size)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	if pos.Quantity.IsZero() {
		pos.MarkPrice = avg
		pos.UnrealizedPnL = decimal.Zero
		pos.UpdatedAt = now
	} else {
		markLocked(pos, avg, now)
	}

	rec := w.recordLocked(o, net, realized, now)
	w.orders = append(w.orders, o)
	balance := w.balance
	w.mu.Unlock()

	w.logger.Info("wallet: sell filled",
		slog.String("token_id", tokenID),
		slog.String("size", f.size.String()),
		slog.String("avg_price", avg.StringFixed(4)),
		slog.String("realized_pnl", realized.StringFixed(4)),
		slog.String("balance", balance.StringFixed(2)),
	)
	w.txns.Emit(rec)
	return o
}

// UpdatePositionPrices marks an open position at mid. It reports false and
// changes nothing when no open position exists.
func (w *Wallet) UpdatePositionPrices(tokenID string, mid decimal.Decimal) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos, ok := w.positions[tokenID]
	if !ok || !pos.Quantity.IsPositive() {
		return false
	}
	markLocked(pos, mid, w.now())
	return true
}

func markLocked(pos *domain.VirtualPosition, price decimal.Decimal, now time.Time) {
	pos.MarkPrice = price
	pos.UnrealizedPnL = price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
	pos.UpdatedAt = now
}

func (w *Wallet) positionLocked(tokenID string) *domain.VirtualPosition {
	pos, ok := w.positions[tokenID]
	if !ok {
		pos = &domain.VirtualPosition{TokenID: tokenID}
		w.positions[tokenID] = pos
	}
	return pos
}

func (w *Wallet) recordLocked(o domain.VirtualOrder, cash, realized decimal.Decimal, now time.Time) domain.TransactionRecord {
	rec := domain.TransactionRecord{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		TokenID:      o.TokenID,
		Side:         o.Side,
		Size:         o.FilledSize,
		Price:        o.AvgFillPrice,
		Notional:     o.Notional,
		Fee:          o.Fee,
		RealizedPnL:  realized,
		CashDelta:    cash,
		BalanceAfter: w.balance,
		Timestamp:    now,
	}
	w.ledger = append(w.ledger, rec)
	return rec
}

// Balance returns the available USDC.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Position returns a copy of the position for tokenID, including closed ones.
func (w *Wallet) Position(tokenID string) (domain.VirtualPosition, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos, ok := w.positions[tokenID]
	if !ok {
		return domain.VirtualPosition{}, false
	}
	return *pos, true
}

// Positions returns open positions ordered by token id.
func (w *Wallet) Positions() []domain.VirtualPosition {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.VirtualPosition, 0, len(w.positions))
	for _, p := range w.positions {
		if p.Open() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Transactions returns a copy of the ledger in append order.
func (w *Wallet) Transactions() []domain.TransactionRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.TransactionRecord(nil), w.ledger...)
}

// Orders returns every simulated order, rejected ones included.
func (w *Wallet) Orders() []domain.VirtualOrder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.VirtualOrder(nil), w.orders...)
}

// TotalPnL returns realized plus unrealized PnL across all positions.
func (w *Wallet) TotalPnL() (realized, unrealized, total decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pnlLocked()
}

func (w *Wallet) pnlLocked() (realized, unrealized, total decimal.Decimal) {
	for _, p := range w.positions {
		realized = realized.Add(p.RealizedPnL)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	return realized, unrealized, realized.Add(unrealized)
}

// Summary returns a point-in-time view of the wallet.
func (w *Wallet) Summary() domain.WalletSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	realized, unrealized, total := w.pnlLocked()
	open := 0
	for _, p := range w.positions {
		if p.Open() {
			open++
		}
	}
	return domain.WalletSummary{
		Balance:          w.balance,
		InitialBalance:   w.initial,
		RealizedPnL:      realized,
		UnrealizedPnL:    unrealized,
		TotalPnL:         total,
		OpenPositions:    open,
		TransactionCount: len(w.ledger),
	}
}

// Reset restores the initial balance and drops all positions and history.
func (w *Wallet) Reset() {
	w.mu.Lock()
	w.balance = w.initial
	w.positions = make(map[string]*domain.VirtualPosition)
	w.ledger = nil
	w.orders = nil
	w.mu.Unlock()
	w.logger.Info("wallet: reset", slog.String("balance", w.initial.String()))
}
