package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/platform/polymarket"
)

// errSkip tells the chain to try the next strategy.
var errSkip = errors.New("resolver: strategy not applicable")

// Query carries everything a strategy needs about one resolution.
type Query struct {
	Input        Input
	Pattern      domain.MarketPattern
	Interval     time.Duration
	Timestamp    int64
	HasTimestamp bool
	Now          time.Time
}

// Strategy is one step of the resolution chain. It returns errSkip when it
// does not apply or finds nothing; any other error aborts the chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, q *Query) (domain.MarketMetadata, error)
}

// Discovery is the subset of the Gamma API the resolver depends on.
type Discovery interface {
	GetEventBySlug(ctx context.Context, slug string) (polymarket.APIEvent, error)
	ListEvents(ctx context.Context, f polymarket.EventFilter) ([]polymarket.APIEvent, error)
}

// MarketLookup is the authoritative per-market metadata source.
type MarketLookup interface {
	GetMarket(ctx context.Context, conditionID string) (domain.MarketMetadata, error)
}

// fetchActive resolves one literal slug and returns errSkip unless it is a
// tradable, unexpired market.
func fetchActive(ctx context.Context, gamma Discovery, slug string, now time.Time) (domain.MarketMetadata, error) {
	ev, err := gamma.GetEventBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MarketMetadata{}, errSkip
		}
		return domain.MarketMetadata{}, err
	}
	if len(ev.Markets) == 0 {
		return domain.MarketMetadata{}, errSkip
	}
	meta := ev.Markets[0].ToMetadata(ev.Slug)
	if bool(ev.Closed) || !meta.Tradable(now) {
		return meta, errSkip
	}
	return meta, nil
}

// conditionIDStrategy resolves 0x condition ids against the CLOB.
type conditionIDStrategy struct {
	markets MarketLookup
}

func (s conditionIDStrategy) Name() string { return "condition_id" }

func (s conditionIDStrategy) Resolve(ctx context.Context, q *Query) (domain.MarketMetadata, error) {
	if q.Input.Kind != InputConditionID {
		return domain.MarketMetadata{}, errSkip
	}
	meta, err := s.markets.GetMarket(ctx, q.Input.Value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MarketMetadata{}, fmt.Errorf("%w: condition id %s", domain.ErrMarketNotFound, q.Input.Value)
		}
		return domain.MarketMetadata{}, err
	}
	return meta, nil
}

// literalStrategy is the fast path: the slug as given, if still live.
type literalStrategy struct {
	gamma Discovery
}

func (s literalStrategy) Name() string { return "literal" }

func (s literalStrategy) Resolve(ctx context.Context, q *Query) (domain.MarketMetadata, error) {
	if q.Input.Kind != InputSlug {
		return domain.MarketMetadata{}, errSkip
	}
	return fetchActive(ctx, s.gamma, q.Input.Value, q.Now)
}

// predictiveStrategy tries the predicted successor slugs of a rolling family.
type predictiveStrategy struct {
	gamma  Discovery
	logger *slog.Logger
}

func (s predictiveStrategy) Name() string { return "predictive" }

func (s predictiveStrategy) Resolve(ctx context.Context, q *Query) (domain.MarketMetadata, error) {
	if q.Input.Kind != InputSlug || !q.Pattern.Rolling() {
		return domain.MarketMetadata{}, errSkip
	}

	base := familyBase(q.Pattern)
	predicted := PredictTimestamp(q.Timestamp, q.HasTimestamp, q.Interval, q.Now)
	for _, slug := range CandidateSlugs(base, predicted, q.Interval) {
		if slug == q.Input.Value {
			continue
		}
		meta, err := fetchActive(ctx, s.gamma, slug, q.Now)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, errSkip) {
			return domain.MarketMetadata{}, err
		}
		s.logger.DebugContext(ctx, "resolver: candidate missed", slog.String("slug", slug))
	}
	return domain.MarketMetadata{}, errSkip
}

// searchStrategy lists open events and picks the family member closest to
// expiring.
type searchStrategy struct {
	gamma    Discovery
	seriesID string
	logger   *slog.Logger
}

func (s searchStrategy) Name() string { return "search" }

func (s searchStrategy) Resolve(ctx context.Context, q *Query) (domain.MarketMetadata, error) {
	if q.Input.Kind != InputSlug || !q.Pattern.Rolling() {
		return domain.MarketMetadata{}, errSkip
	}

	active, closed := true, false
	events, err := s.gamma.ListEvents(ctx, polymarket.EventFilter{Active: &active, Closed: &closed, Limit: 500})
	if err != nil {
		return domain.MarketMetadata{}, err
	}

	base := familyBase(q.Pattern)
	strict := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(base) + `-\d{10}$`)

	matches := filterEvents(events, q.Now, func(slug string) bool { return strict.MatchString(slug) })
	if len(matches) == 0 {
		matches = filterEvents(events, q.Now, func(slug string) bool {
			return strings.Contains(strings.ToLower(slug), strings.ToLower(base))
		})
	}
	if len(matches) == 0 && s.seriesID != "" {
		series, err := s.gamma.ListEvents(ctx, polymarket.EventFilter{
			Active: &active, Closed: &closed, SeriesID: s.seriesID, Limit: 100,
		})
		if err != nil {
			return domain.MarketMetadata{}, err
		}
		matches = filterEvents(series, q.Now, func(string) bool { return true })
	}
	if len(matches) == 0 {
		return domain.MarketMetadata{}, errSkip
	}
	s.logger.DebugContext(ctx, "resolver: search candidates",
		slog.String("base", base),
		slog.Int("count", len(matches)),
	)

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].end.Before(matches[j].end) })
	for _, m := range matches {
		meta, err := fetchActive(ctx, s.gamma, m.slug, q.Now)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, errSkip) {
			return domain.MarketMetadata{}, err
		}
	}
	return domain.MarketMetadata{}, errSkip
}

type eventMatch struct {
	slug string
	end  time.Time
}

// filterEvents keeps open, unexpired events whose slug satisfies keep.
func filterEvents(events []polymarket.APIEvent, now time.Time, keep func(string) bool) []eventMatch {
	var out []eventMatch
	for i := range events {
		ev := &events[i]
		if ev.Slug == "" || !ev.Open() || !keep(ev.Slug) {
			continue
		}
		end, ok := ev.EndTime()
		if !ok || !end.After(now) {
			continue
		}
		out = append(out, eventMatch{slug: ev.Slug, end: end})
	}
	return out
}

// familyBase returns the base identifier including its interval suffix.
func familyBase(p domain.MarketPattern) string {
	base := p.BaseIdentifier
	if p.Timeframe != "" && !strings.HasSuffix(strings.ToLower(base), "-"+p.Timeframe) {
		base += "-" + p.Timeframe
	}
	return base
}
