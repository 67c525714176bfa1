package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/shopspring/decimal"
)

// bpsDivisor converts CLOB basis-point fees into fractions.
var bpsDivisor = decimal.NewFromInt(10_000)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// StringList decodes a field that Gamma sends either as a JSON array or as a
// string holding a JSON-encoded array. A string that is not valid JSON
// becomes a single-element list. Numeric elements keep their literal text.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '[' {
		out, err := decodeListElems(data)
		if err != nil {
			return err
		}
		*l = out
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare number or bool.
		*l = StringList{string(data)}
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*l = nil
		return nil
	}
	if out, err := decodeListElems([]byte(s)); err == nil {
		*l = out
		return nil
	}
	*l = StringList{s}
	return nil
}

func decodeListElems(data []byte) (StringList, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(StringList, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, strings.TrimSpace(string(r)))
	}
	return out, nil
}

// At returns element i or fallback when out of range or empty.
func (l StringList) At(i int, fallback string) string {
	if i < 0 || i >= len(l) || l[i] == "" {
		return fallback
	}
	return l[i]
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma /events endpoint.
type APIEvent struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	EndDate string      `json:"endDate"`
	Markets []APIMarket `json:"markets"`
}

// EndTime returns the event end date, falling back to the first market's.
// ok is false when neither parses.
func (e *APIEvent) EndTime() (time.Time, bool) {
	if t, ok := parseTime(e.EndDate); ok {
		return t, true
	}
	for i := range e.Markets {
		if t, ok := parseTime(e.Markets[i].EndDate); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Open reports whether Gamma flags the event active and not closed.
func (e *APIEvent) Open() bool {
	return bool(e.Active) && !bool(e.Closed)
}

// APIMarket is a market nested inside a Gamma event.
type APIMarket struct {
	ID                    string              `json:"id"`
	Question              string              `json:"question"`
	ConditionID           string              `json:"conditionId"`
	Slug                  string              `json:"slug"`
	EndDate               string              `json:"endDate"`
	ClobTokenIDs          StringList          `json:"clobTokenIds"`
	Outcomes              StringList          `json:"outcomes"`
	OutcomePrices         StringList          `json:"outcomePrices"`
	Active                *flexBool           `json:"active"`
	Closed                flexBool            `json:"closed"`
	NegRisk               flexBool            `json:"negRisk"`
	OrderPriceMinTickSize decimal.NullDecimal `json:"orderPriceMinTickSize"`
}

// ToMetadata normalizes a Gamma market. Fees are left at zero and the tick
// size defaults to 0.01 when absent; the CLOB lookup is authoritative for
// both.
func (m *APIMarket) ToMetadata(eventSlug string) domain.MarketMetadata {
	meta := domain.MarketMetadata{
		ConditionID: m.ConditionID,
		Slug:        eventSlug,
		Question:    m.Question,
		TickSize:    domain.DefaultTickSize,
		TakerFee:    decimal.Zero,
		MakerFee:    decimal.Zero,
		NegRisk:     bool(m.NegRisk),
		Active:      m.Active == nil || bool(*m.Active),
	}
	if meta.Slug == "" {
		meta.Slug = m.Slug
	}
	if bool(m.Closed) {
		meta.Active = false
	}
	if m.OrderPriceMinTickSize.Valid && m.OrderPriceMinTickSize.Decimal.IsPositive() {
		meta.TickSize = m.OrderPriceMinTickSize.Decimal
	}
	if t, ok := parseTime(m.EndDate); ok {
		meta.EndDate = t
	}

	meta.Tokens = make([]domain.MarketToken, 0, len(m.Outcomes))
	for i, outcome := range m.Outcomes {
		price, err := decimal.NewFromString(m.OutcomePrices.At(i, "0.5"))
		if err != nil {
			price = decimal.NewFromFloat(0.5)
		}
		meta.Tokens = append(meta.Tokens, domain.MarketToken{
			TokenID: m.ClobTokenIDs.At(i, ""),
			Outcome: outcome,
			Price:   price,
		})
	}
	return meta
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// CLOBMarket is the response of CLOB GET /markets/{condition_id}.
type CLOBMarket struct {
	ConditionID     string              `json:"condition_id"`
	Question        string              `json:"question"`
	MarketSlug      string              `json:"market_slug"`
	EndDateISO      string              `json:"end_date_iso"`
	Tokens          []CLOBToken         `json:"tokens"`
	MinimumTickSize decimal.NullDecimal `json:"minimum_tick_size"`
	TakerBaseFee    decimal.NullDecimal `json:"taker_base_fee"`
	MakerBaseFee    decimal.NullDecimal `json:"maker_base_fee"`
	NegRisk         bool                `json:"neg_risk"`
	Active          *bool               `json:"active"`
	Closed          bool                `json:"closed"`
}

// CLOBToken is a token entry in a CLOB market response.
type CLOBToken struct {
	TokenID string          `json:"token_id"`
	Outcome string          `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
}

// Fees returns the taker/maker fees as fractions of notional.
func (c *CLOBMarket) Fees() domain.FeeSchedule {
	fs := domain.FeeSchedule{TakerFee: decimal.Zero, MakerFee: decimal.Zero}
	if c.TakerBaseFee.Valid {
		fs.TakerFee = c.TakerBaseFee.Decimal.Div(bpsDivisor)
	}
	if c.MakerBaseFee.Valid {
		fs.MakerFee = c.MakerBaseFee.Decimal.Div(bpsDivisor)
	}
	return fs
}

// ToMetadata converts the CLOB market into MarketMetadata.
func (c *CLOBMarket) ToMetadata() domain.MarketMetadata {
	fees := c.Fees()
	meta := domain.MarketMetadata{
		ConditionID: c.ConditionID,
		Slug:        c.MarketSlug,
		Question:    c.Question,
		TickSize:    domain.DefaultTickSize,
		TakerFee:    fees.TakerFee,
		MakerFee:    fees.MakerFee,
		NegRisk:     c.NegRisk,
		Active:      (c.Active == nil || *c.Active) && !c.Closed,
	}
	if c.MinimumTickSize.Valid && c.MinimumTickSize.Decimal.IsPositive() {
		meta.TickSize = c.MinimumTickSize.Decimal
	}
	if t, ok := parseTime(c.EndDateISO); ok {
		meta.EndDate = t
	}
	for _, t := range c.Tokens {
		meta.Tokens = append(meta.Tokens, domain.MarketToken{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   t.Price,
		})
	}
	return meta
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries one or more level updates. Older feeds send a
// single change at the top level; newer ones batch them in price_changes.
type PriceChangeMessage struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Side         string          `json:"side"`
	Price        string          `json:"price"`
	Size         string          `json:"size"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
	Changes      []WSPriceChange `json:"changes"`
}

// WSPriceChange is one entry in a batched price_change message.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// LastTradeMessage reports the most recent trade for an asset.
type LastTradeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// SubscribeCommand is the market-channel subscription payload.
type SubscribeCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// BookToDomainSnapshot converts a BookMessage. Levels with unparseable
// numbers are skipped.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID:   b.AssetID,
		Market:    b.Market,
		Bids:      toLevels(b.Bids),
		Asks:      toLevels(b.Asks),
		Timestamp: parseFeedTimestamp(b.Timestamp),
		Hash:      b.Hash,
	}
}

func toLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// PriceChangesToDomain flattens a price_change message.
func PriceChangesToDomain(m *PriceChangeMessage) []domain.PriceChange {
	ts := parseFeedTimestamp(m.Timestamp)
	batch := m.PriceChanges
	if len(batch) == 0 {
		batch = m.Changes
	}
	if len(batch) == 0 {
		batch = []WSPriceChange{{AssetID: m.AssetID, Side: m.Side, Price: m.Price, Size: m.Size}}
	}

	out := make([]domain.PriceChange, 0, len(batch))
	for _, c := range batch {
		p, err := decimal.NewFromString(c.Price)
		if err != nil {
			continue
		}
		s, _ := decimal.NewFromString(c.Size)
		asset := c.AssetID
		if asset == "" {
			asset = m.AssetID
		}
		out = append(out, domain.PriceChange{
			AssetID:   asset,
			Side:      strings.ToUpper(c.Side),
			Price:     p,
			Size:      s,
			Timestamp: ts,
		})
	}
	return out
}

// LastTradeToDomain converts a last_trade_price message.
func LastTradeToDomain(m *LastTradeMessage) domain.LastTradePrice {
	p, _ := decimal.NewFromString(m.Price)
	s, _ := decimal.NewFromString(m.Size)
	return domain.LastTradePrice{
		AssetID:   m.AssetID,
		Side:      strings.ToUpper(m.Side),
		Price:     p,
		Size:      s,
		Timestamp: parseFeedTimestamp(m.Timestamp),
	}
}

// parseFeedTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseFeedTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	if t, ok := parseTime(s); ok {
		return t
	}
	return time.Now().UTC()
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
