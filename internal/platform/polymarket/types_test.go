package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListDecoding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want StringList
	}{
		{"array", `["Up","Down"]`, StringList{"Up", "Down"}},
		{"encoded string", `"[\"123\",\"456\"]"`, StringList{"123", "456"}},
		{"numeric array", `[0.51, 0.49]`, StringList{"0.51", "0.49"}},
		{"plain string falls back", `"Yes"`, StringList{"Yes"}},
		{"broken encoded string falls back", `"[\"1\","`, StringList{`["1",`}},
		{"empty string", `""`, nil},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIMarketToMetadata(t *testing.T) {
	raw := `{
		"conditionId": "0xabc",
		"question": "Bitcoin Up or Down?",
		"endDate": "2026-02-04T16:15:00Z",
		"clobTokenIds": "[\"111\",\"222\"]",
		"outcomes": "[\"Up\",\"Down\"]",
		"outcomePrices": ["0.52","0.48"],
		"active": "true",
		"negRisk": false
	}`
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	meta := m.ToMetadata("btc-updown-15m-1770221700")
	assert.Equal(t, "0xabc", meta.ConditionID)
	assert.Equal(t, "btc-updown-15m-1770221700", meta.Slug)
	assert.True(t, meta.Active)
	assert.Equal(t, time.Date(2026, 2, 4, 16, 15, 0, 0, time.UTC), meta.EndDate)
	require.Len(t, meta.Tokens, 2)
	assert.Equal(t, "111", meta.Tokens[0].TokenID)
	assert.Equal(t, "Down", meta.Tokens[1].Outcome)
	assert.Equal(t, "0.48", meta.Tokens[1].Price.String())
	assert.Equal(t, "0.01", meta.TickSize.String())
	assert.True(t, meta.TakerFee.IsZero())
}

func TestAPIMarketClosedIsInactive(t *testing.T) {
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(`{"conditionId":"0x1","outcomes":["Yes"],"closed":true}`), &m))
	meta := m.ToMetadata("")
	assert.False(t, meta.Active)
	require.Len(t, meta.Tokens, 1)
	assert.Equal(t, "0.5", meta.Tokens[0].Price.String())
}

func TestCLOBMarketToMetadata(t *testing.T) {
	raw := `{
		"condition_id": "0xabc",
		"question": "Q",
		"end_date_iso": "2026-02-04T16:15:00Z",
		"minimum_tick_size": 0.001,
		"taker_base_fee": 200,
		"maker_base_fee": 0,
		"neg_risk": true,
		"active": true,
		"tokens": [{"token_id":"111","outcome":"Up","price":0.5},{"token_id":"222","outcome":"Down","price":0.5}]
	}`
	var m CLOBMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	meta := m.ToMetadata()
	assert.Equal(t, "0.001", meta.TickSize.String())
	assert.Equal(t, "0.02", meta.TakerFee.String())
	assert.True(t, meta.MakerFee.IsZero())
	assert.True(t, meta.NegRisk)
	assert.Equal(t, []string{"111", "222"}, meta.TokenIDs())
}

func TestBookToDomainSnapshotSkipsBadLevels(t *testing.T) {
	snap := BookToDomainSnapshot(&BookMessage{
		AssetID:   "a",
		Bids:      []WSPriceLevel{{Price: "0.3", Size: "1"}, {Price: "x", Size: "1"}},
		Asks:      []WSPriceLevel{{Price: "0.6", Size: "bad"}},
		Timestamp: "1770220800",
	})
	assert.Len(t, snap.Bids, 1)
	assert.Empty(t, snap.Asks)
	assert.Equal(t, time.Unix(1770220800, 0).UTC(), snap.Timestamp)
}
