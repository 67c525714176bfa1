package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event discovery and search.
type GammaClient struct {
	restClient
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ...Option) *GammaClient {
	return &GammaClient{restClient: newRestClient(baseURL, opts...)}
}

// EventFilter narrows a Gamma /events listing.
type EventFilter struct {
	Active   *bool
	Closed   *bool
	SeriesID string
	Limit    int
	Offset   int
}

// GetEventBySlug returns the event with the given slug, or
// domain.ErrNotFound when Gamma has none.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	return events[0], nil
}

// ListEvents returns events matching the filter.
func (g *GammaClient) ListEvents(ctx context.Context, f EventFilter) ([]APIEvent, error) {
	params := url.Values{}
	if f.Active != nil {
		params.Set("active", strconv.FormatBool(*f.Active))
	}
	if f.Closed != nil {
		params.Set("closed", strconv.FormatBool(*f.Closed))
	}
	if f.SeriesID != "" {
		params.Set("series_id", f.SeriesID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(f.Offset))

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	return events, nil
}
