package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// Request identifies the market to resolve. Category ("15m", "1h", "4h")
// marks a slug without an interval suffix as rolling at that interval.
type Request struct {
	Input    string
	Category string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithSeriesID sets the last-resort series identifier used by search recovery.
func WithSeriesID(id string) Option {
	return func(r *Resolver) { r.seriesID = id }
}

// WithFeeEnrichment makes slug resolutions look up authoritative fees and
// tick size before returning, so simulated fills never run on the
// discovery defaults.
func WithFeeEnrichment(enabled bool) Option {
	return func(r *Resolver) { r.enrichFees = enabled }
}

// Resolver runs the ordered strategy chain.
type Resolver struct {
	gamma      Discovery
	markets    MarketLookup
	logger     *slog.Logger
	now        func() time.Time
	seriesID   string
	enrichFees bool
	chain      []Strategy
}

// New creates a Resolver over the Gamma discovery API and the CLOB market
// lookup.
func New(gamma Discovery, markets MarketLookup, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		gamma:      gamma,
		markets:    markets,
		logger:     logger.With(slog.String("component", "resolver")),
		now:        time.Now,
		enrichFees: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chain = []Strategy{
		conditionIDStrategy{markets: markets},
		literalStrategy{gamma: gamma},
		predictiveStrategy{gamma: gamma, logger: r.logger},
		searchStrategy{gamma: gamma, seriesID: r.seriesID, logger: r.logger},
	}
	return r
}

// Pattern classifies a request without any network access.
func (r *Resolver) Pattern(req Request) (domain.MarketPattern, error) {
	in, err := ParseInput(req.Input)
	if err != nil {
		return domain.MarketPattern{}, err
	}
	if in.Kind == InputConditionID {
		return domain.MarketPattern{Kind: domain.MarketKindOneOff, BaseIdentifier: in.Value}, nil
	}
	return DetectPattern(in.Value, req.Category), nil
}

// Resolve maps the request to the currently active market instance. It
// performs no retries; each call is a single pass over the chain.
func (r *Resolver) Resolve(ctx context.Context, req Request) (domain.MarketMetadata, error) {
	q, err := r.query(req)
	if err != nil {
		return domain.MarketMetadata{}, err
	}

	for _, s := range r.chain {
		meta, err := s.Resolve(ctx, q)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return domain.MarketMetadata{}, fmt.Errorf("resolver: %s: %w", s.Name(), err)
		}

		r.logger.InfoContext(ctx, "resolver: market resolved",
			slog.String("strategy", s.Name()),
			slog.String("input", q.Input.Value),
			slog.String("condition_id", meta.ConditionID),
			slog.String("slug", meta.Slug),
			slog.Time("end_date", meta.EndDate),
		)
		if q.Input.Kind == InputSlug && r.enrichFees && r.markets != nil {
			meta = r.withFees(ctx, meta)
		}
		return meta, nil
	}

	if q.Pattern.Rolling() {
		return domain.MarketMetadata{}, fmt.Errorf("resolver: %w: no active instance of %s", domain.ErrMarketNotFound, q.Pattern.BaseIdentifier)
	}
	return domain.MarketMetadata{}, fmt.Errorf("resolver: %w: %s", domain.ErrMarketNotFound, q.Input.Value)
}

func (r *Resolver) query(req Request) (*Query, error) {
	in, err := ParseInput(req.Input)
	if err != nil {
		return nil, err
	}
	q := &Query{Input: in, Now: r.now()}
	if in.Kind == InputConditionID {
		q.Pattern = domain.MarketPattern{Kind: domain.MarketKindOneOff, BaseIdentifier: in.Value}
		return q, nil
	}

	q.Pattern = DetectPattern(in.Value, req.Category)
	q.Interval = IntervalFor(q.Pattern.Timeframe)
	if q.Pattern.Rolling() {
		_, q.Timestamp, q.HasTimestamp = SplitTimestamp(in.Value)
	}
	return q, nil
}

// withFees overlays CLOB fees and tick size. A failed lookup keeps the
// discovery defaults.
func (r *Resolver) withFees(ctx context.Context, meta domain.MarketMetadata) domain.MarketMetadata {
	if meta.ConditionID == "" {
		return meta
	}
	auth, err := r.markets.GetMarket(ctx, meta.ConditionID)
	if err != nil {
		r.logger.WarnContext(ctx, "resolver: fee lookup failed, using discovery defaults",
			slog.String("condition_id", meta.ConditionID),
			slog.String("error", err.Error()),
		)
		return meta
	}
	meta.TakerFee = auth.TakerFee
	meta.MakerFee = auth.MakerFee
	if auth.TickSize.IsPositive() {
		meta.TickSize = auth.TickSize
	}
	meta.NegRisk = auth.NegRisk
	return meta
}
