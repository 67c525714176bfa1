package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTickSize is applied when discovery data carries no tick size.
var DefaultTickSize = decimal.RequireFromString("0.01")

// MarketToken is one outcome of a binary market.
type MarketToken struct {
	TokenID string          `json:"token_id"`
	Outcome string          `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
}

// MarketMetadata describes one concrete instance of a market. Values are
// never mutated after resolution; a successor instance replaces them.
type MarketMetadata struct {
	ConditionID string          `json:"condition_id"`
	Slug        string          `json:"slug,omitempty"`
	Question    string          `json:"question"`
	EndDate     time.Time       `json:"end_date"`
	Tokens      []MarketToken   `json:"tokens"`
	TickSize    decimal.Decimal `json:"tick_size"`
	TakerFee    decimal.Decimal `json:"taker_fee"`
	MakerFee    decimal.Decimal `json:"maker_fee"`
	NegRisk     bool            `json:"neg_risk"`
	Active      bool            `json:"active"`
}

// TokenIDs returns the token ids in outcome order.
func (m MarketMetadata) TokenIDs() []string {
	ids := make([]string, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		if t.TokenID != "" {
			ids = append(ids, t.TokenID)
		}
	}
	return ids
}

// HasToken reports whether tokenID belongs to this market.
func (m MarketMetadata) HasToken(tokenID string) bool {
	for _, t := range m.Tokens {
		if t.TokenID == tokenID {
			return true
		}
	}
	return false
}

// TimeUntilExpiry returns EndDate minus now. A market without an end date
// never expires.
func (m MarketMetadata) TimeUntilExpiry(now time.Time) time.Duration {
	if m.EndDate.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return m.EndDate.Sub(now)
}

// Expired reports whether the wall clock has passed the end date.
func (m MarketMetadata) Expired(now time.Time) bool {
	return !m.EndDate.IsZero() && !now.Before(m.EndDate)
}

// Tradable reports whether the market is flagged active and not expired.
func (m MarketMetadata) Tradable(now time.Time) bool {
	return m.Active && !m.Expired(now)
}

// Fees returns the fee schedule used for simulated fills.
func (m MarketMetadata) Fees() FeeSchedule {
	return FeeSchedule{TakerFee: m.TakerFee, MakerFee: m.MakerFee}
}

// FeeSchedule holds fractional taker/maker fees (0.02 = 2%).
type FeeSchedule struct {
	TakerFee decimal.Decimal `json:"taker_fee"`
	MakerFee decimal.Decimal `json:"maker_fee"`
}

// MarketKind classifies a slug.
type MarketKind string

const (
	MarketKindRolling MarketKind = "ROLLING"
	MarketKindOneOff  MarketKind = "ONE_OFF"
)

// MarketPattern is derived from slug text alone.
type MarketPattern struct {
	Kind           MarketKind `json:"kind"`
	BaseIdentifier string     `json:"base_identifier"`
	Timeframe      string     `json:"timeframe,omitempty"` // "15m", "1h", "4h" or empty
	Discoverable   bool       `json:"discoverable"`
}

// Rolling reports whether the pattern describes a recurring market family.
func (p MarketPattern) Rolling() bool {
	return p.Kind == MarketKindRolling
}
