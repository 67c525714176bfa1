package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VirtualPosition is a long holding of one token inside the virtual wallet.
type VirtualPosition struct {
	TokenID       string          `json:"token_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Open reports whether the position still holds a positive quantity.
func (p VirtualPosition) Open() bool {
	return p.Quantity.IsPositive()
}

// TransactionRecord is an append-only ledger entry mirroring a filled order.
type TransactionRecord struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	TokenID      string          `json:"token_id"`
	Side         OrderSide       `json:"side"`
	Size         decimal.Decimal `json:"size"`
	Price        decimal.Decimal `json:"price"`
	Notional     decimal.Decimal `json:"notional"`
	Fee          decimal.Decimal `json:"fee"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	CashDelta    decimal.Decimal `json:"cash_delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// WalletSummary is a point-in-time view of the virtual wallet.
type WalletSummary struct {
	Balance          decimal.Decimal `json:"balance"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	OpenPositions    int             `json:"open_positions"`
	TransactionCount int             `json:"transaction_count"`
}
