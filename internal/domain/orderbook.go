package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderbookSnapshot is a full snapshot of bids and asks for an asset. The
// wire gives no ordering guarantee, so level slices are unordered.
type OrderbookSnapshot struct {
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market,omitempty"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
	Hash      string       `json:"hash,omitempty"`
}

// SortedAsks returns a copy of the asks, cheapest first.
func (s OrderbookSnapshot) SortedAsks() []PriceLevel {
	out := append([]PriceLevel(nil), s.Asks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// SortedBids returns a copy of the bids, highest first.
func (s OrderbookSnapshot) SortedBids() []PriceLevel {
	out := append([]PriceLevel(nil), s.Bids...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

// BestBid returns the highest bid, if any.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, l := range s.Bids {
		if !found || l.Price.GreaterThan(best.Price) {
			best, found = l, true
		}
	}
	return best, found
}

// BestAsk returns the lowest ask, if any.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, l := range s.Asks {
		if !found || l.Price.LessThan(best.Price) {
			best, found = l, true
		}
	}
	return best, found
}

// MidPrice returns the midpoint of the best bid and ask. ok is false when
// either side is empty.
func (s OrderbookSnapshot) MidPrice() (mid decimal.Decimal, ok bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// PriceChange is an incremental orderbook level update.
type PriceChange struct {
	AssetID   string          `json:"asset_id"`
	Side      string          `json:"side"` // "BUY" or "SELL"
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"` // zero means remove level
	Timestamp time.Time       `json:"timestamp"`
}

// LastTradePrice is the most recent trade execution for an asset.
type LastTradePrice struct {
	AssetID   string          `json:"asset_id"`
	Side      string          `json:"side,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}
