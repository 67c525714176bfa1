package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidPrice(t *testing.T) {
	tests := []struct {
		price, tick string
		want        bool
	}{
		{"0.41", "0.01", true},
		{"0.415", "0.01", false},
		{"0.415", "0.001", true},
		{"0.40000001", "0.01", true},
		{"0.39999999", "0.01", true},
		{"0", "0.01", false},
		{"-0.1", "0.01", false},
		{"0.123", "0", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidPrice(d(tt.price), d(tt.tick)), "%s/%s", tt.price, tt.tick)
	}
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, "0.42", RoundToTick(d("0.417"), d("0.01")).String())
	assert.Equal(t, "0.41", RoundToTick(d("0.4149"), d("0.01")).String())
	assert.Equal(t, "0.417", RoundToTick(d("0.417"), decimal.Zero).String())
}

func TestOutcomeTokens(t *testing.T) {
	m := MarketMetadata{Tokens: []MarketToken{{TokenID: "d", Outcome: "Down"}, {TokenID: "u", Outcome: "Up"}}}
	yes, no, ok := m.OutcomeTokens()
	require.True(t, ok)
	assert.Equal(t, "u", yes)
	assert.Equal(t, "d", no)

	m = MarketMetadata{Tokens: []MarketToken{{TokenID: "a", Outcome: "Trump"}, {TokenID: "b", Outcome: "Harris"}}}
	yes, no, ok = m.OutcomeTokens()
	require.True(t, ok)
	assert.Equal(t, "a", yes)
	assert.Equal(t, "b", no)

	_, _, ok = MarketMetadata{Tokens: []MarketToken{{TokenID: "a"}}}.OutcomeTokens()
	assert.False(t, ok)
}

func TestOrderbookHelpers(t *testing.T) {
	snap := OrderbookSnapshot{
		Bids: []PriceLevel{{Price: d("0.38"), Size: d("5")}, {Price: d("0.39"), Size: d("10")}},
		Asks: []PriceLevel{{Price: d("0.45"), Size: d("30")}, {Price: d("0.40"), Size: d("20")}},
	}

	asks := snap.SortedAsks()
	assert.Equal(t, "0.4", asks[0].Price.String())
	assert.Equal(t, "0.45", snap.Asks[0].Price.String(), "input must not be reordered")

	bids := snap.SortedBids()
	assert.Equal(t, "0.39", bids[0].Price.String())

	mid, ok := snap.MidPrice()
	require.True(t, ok)
	assert.Equal(t, "0.395", mid.String())

	_, ok = OrderbookSnapshot{Asks: snap.Asks}.MidPrice()
	assert.False(t, ok)
}

func TestMarketExpiry(t *testing.T) {
	now := time.Unix(1770220800, 0)
	m := MarketMetadata{EndDate: now.Add(time.Minute), Active: true}
	assert.Equal(t, time.Minute, m.TimeUntilExpiry(now))
	assert.True(t, m.Tradable(now))
	assert.True(t, m.Expired(now.Add(time.Minute)))
	assert.False(t, MarketMetadata{Active: true}.Expired(now))
}
