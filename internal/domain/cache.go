package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache stores the latest mark price per asset.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (decimal.Decimal, time.Time, error)
}

// OrderbookCache stores the latest full snapshot per asset.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, assetID string) (OrderbookSnapshot, error)
}

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market MarketMetadata) error
	Get(ctx context.Context, conditionID string) (MarketMetadata, error)
	GetByToken(ctx context.Context, tokenID string) (MarketMetadata, error)
	Invalidate(ctx context.Context, conditionID string) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Well-known signal bus channel and stream names.
const (
	ChannelLifecycle = "lifecycle"
	ChannelOrders    = "orders"
	StreamLifecycle  = "lifecycle:log"
	StreamLedger     = "ledger:log"
)
