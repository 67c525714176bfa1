package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceTolerance absorbs representation noise in tick alignment checks.
var PriceTolerance = decimal.New(1, -7)

// ValidPrice reports whether price is a positive multiple of tick within
// PriceTolerance. A non-positive tick accepts any price.
func ValidPrice(price, tick decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	if !tick.IsPositive() {
		return true
	}
	rem := price.Mod(tick).Abs()
	return rem.LessThan(PriceTolerance) || tick.Sub(rem).LessThan(PriceTolerance)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

var (
	yesOutcomes = map[string]bool{"yes": true, "up": true, "higher": true, "over": true}
	noOutcomes  = map[string]bool{"no": true, "down": true, "lower": true, "under": true}
)

// OutcomeTokens returns the affirmative and negative token ids. Labels are
// matched first; when they are not recognised the first two tokens are
// used in order. ok is false for markets with fewer than two tokens.
func (m MarketMetadata) OutcomeTokens() (yes, no string, ok bool) {
	if len(m.Tokens) < 2 {
		return "", "", false
	}
	for _, t := range m.Tokens {
		label := strings.ToLower(strings.TrimSpace(t.Outcome))
		switch {
		case yesOutcomes[label]:
			yes = t.TokenID
		case noOutcomes[label]:
			no = t.TokenID
		}
	}
	if yes == "" || no == "" {
		return m.Tokens[0].TokenID, m.Tokens[1].TokenID, true
	}
	return yes, no, true
}
