package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of a simulated order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// RejectReason explains a REJECTED order.
type RejectReason string

const (
	RejectNone                 RejectReason = ""
	RejectInvalidSize          RejectReason = "invalid_size"
	RejectNoLiquidity          RejectReason = "no_liquidity"
	RejectLimitNotReached      RejectReason = "limit_not_reached"
	RejectInsufficientBalance  RejectReason = "insufficient_balance"
	RejectInsufficientPosition RejectReason = "insufficient_position"
)

// VirtualOrder is the outcome of one simulated fill attempt. A nil
// LimitPrice means a market order.
type VirtualOrder struct {
	ID            string           `json:"id"`
	TokenID       string           `json:"token_id"`
	Side          OrderSide        `json:"side"`
	RequestedSize decimal.Decimal  `json:"requested_size"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	FilledSize    decimal.Decimal  `json:"filled_size"`
	AvgFillPrice  decimal.Decimal  `json:"avg_fill_price"`
	Notional      decimal.Decimal  `json:"notional"`
	Fee           decimal.Decimal  `json:"fee"`
	Slippage      decimal.Decimal  `json:"slippage"` // fraction of the best price
	Status        OrderStatus      `json:"status"`
	Reason        RejectReason     `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// IsMarket reports whether the order had no limit price.
func (o VirtualOrder) IsMarket() bool {
	return o.LimitPrice == nil
}

// Filled reports whether the order reached FILLED.
func (o VirtualOrder) Filled() bool {
	return o.Status == OrderStatusFilled
}
