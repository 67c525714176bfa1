package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// ClobClient reads market metadata from the Polymarket CLOB (Central Limit
// Order Book) API. Only public endpoints are used.
type ClobClient struct {
	restClient
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, opts ...Option) *ClobClient {
	return &ClobClient{restClient: newRestClient(baseURL, opts...)}
}

// GetMarket fetches the authoritative market record for a condition id.
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (domain.MarketMetadata, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(conditionID))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/clob: get market %s: %w", conditionID, err)
	}

	var m CLOBMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/clob: decode market: %w", err)
	}
	if m.ConditionID == "" {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/clob: %w: condition_id=%s", domain.ErrNotFound, conditionID)
	}

	return m.ToMetadata(), nil
}
