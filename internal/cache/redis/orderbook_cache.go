package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// OrderbookCache implements domain.OrderbookCache. Snapshots are replaced
// wholesale on every book message, so each asset is a single JSON value plus
// a small BBO hash for cheap top-of-book reads.
//
// Key schema:
//
//	book:{assetID}      - JSON-encoded domain.OrderbookSnapshot
//	book:{assetID}:bbo  - hash with fields "bid", "ask" and "ts"
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. A zero ttl keeps entries
// until they are overwritten.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

func (oc *OrderbookCache) bookKey(assetID string) string { return oc.c.key("book:" + assetID) }
func (oc *OrderbookCache) bboKey(assetID string) string  { return oc.c.key("book:" + assetID + ":bbo") }

// SetSnapshot atomically replaces the snapshot and BBO for snap.AssetID.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	if snap.AssetID == "" {
		return fmt.Errorf("redis: set orderbook snapshot: %w: empty asset id", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal orderbook %s: %w", snap.AssetID, err)
	}

	bbo := map[string]any{"ts": snap.Timestamp.UnixNano()}
	if bid, ok := snap.BestBid(); ok {
		bbo["bid"] = bid.Price.String()
	}
	if ask, ok := snap.BestAsk(); ok {
		bbo["ask"] = ask.Price.String()
	}

	bookKey, bboKey := oc.bookKey(snap.AssetID), oc.bboKey(snap.AssetID)
	pipe := oc.c.rdb.TxPipeline()
	pipe.Set(ctx, bookKey, data, oc.ttl)
	pipe.Del(ctx, bboKey)
	pipe.HSet(ctx, bboKey, bbo)
	if oc.ttl > 0 {
		pipe.Expire(ctx, bboKey, oc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", snap.AssetID, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	data, err := oc.c.rdb.Get(ctx, oc.bookKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderbookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", assetID, err)
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: unmarshal orderbook %s: %w", assetID, err)
	}
	return snap, nil
}

// GetBBO returns the best bid and ask. A side with no liquidity is zero.
// It returns domain.ErrNotFound if nothing is cached for the asset.
func (oc *OrderbookCache) GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk decimal.Decimal, err error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.bboKey(assetID)).Result()
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, decimal.Zero, domain.ErrNotFound
	}
	if s, ok := vals["bid"]; ok {
		bestBid, _ = decimal.NewFromString(s)
	}
	if s, ok := vals["ask"]; ok {
		bestAsk, _ = decimal.NewFromString(s)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
