package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultMarketTTL bounds how long resolved metadata is trusted.
const DefaultMarketTTL = 6 * time.Hour

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized metadata and a secondary token-to-market index.
//
// Key schema:
//
//	market:{conditionID}   - hash with fields "data" (JSON) and "slug"
//	market:token:{tokenID} - string value of the condition id
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. A non-positive ttl uses
// DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(id string) string { return mc.c.key("market:" + id) }
func (mc *MarketCache) tokenKey(tok string) string { return mc.c.key("market:token:" + tok) }

// Set stores the metadata and indexes every token id to it.
func (mc *MarketCache) Set(ctx context.Context, m domain.MarketMetadata) error {
	if m.ConditionID == "" {
		return fmt.Errorf("redis: set market: %w: empty condition id", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ConditionID, err)
	}

	key := mc.marketKey(m.ConditionID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "slug", m.Slug)
	pipe.Expire(ctx, key, mc.ttl)
	for _, tokenID := range m.TokenIDs() {
		pipe.Set(ctx, mc.tokenKey(tokenID), m.ConditionID, mc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ConditionID, err)
	}
	return nil
}

// Get retrieves metadata by condition id.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, conditionID string) (domain.MarketMetadata, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.marketKey(conditionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get market %s: %w", conditionID, err)
	}

	var m domain.MarketMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("redis: unmarshal market %s: %w", conditionID, err)
	}
	return m, nil
}

// GetByToken looks up metadata by one of its outcome token ids.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.MarketMetadata, error) {
	id, err := mc.c.rdb.Get(ctx, mc.tokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, id)
}

// Invalidate removes the metadata and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, conditionID string) error {
	m, err := mc.Get(ctx, conditionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", conditionID, err)
	}

	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.marketKey(conditionID))
	if err == nil {
		for _, tokenID := range m.TokenIDs() {
			pipe.Del(ctx, mc.tokenKey(tokenID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", conditionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
