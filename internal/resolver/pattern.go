package resolver

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// Interval categories of recurring markets.
const (
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
)

// DefaultInterval applies when no category is known.
const DefaultInterval = 15 * time.Minute

var (
	timeframes = []string{Timeframe15m, Timeframe1h, Timeframe4h}

	// <base>-<tf>-<unix timestamp>
	rollingSlugRe = regexp.MustCompile(`(?i)^(.+)-(15m|1h|4h)-(\d+)$`)
	trailingTSRe  = regexp.MustCompile(`^(.+)-(\d+)$`)
)

// IntervalFor maps a category to its interval width.
func IntervalFor(category string) time.Duration {
	switch strings.ToLower(category) {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return DefaultInterval
	}
}

// DetectPattern classifies a slug. category is an optional explicit
// interval category supplied by the caller. It only applies to slugs that
// carry no interval suffix of their own.
func DetectPattern(slug, category string) domain.MarketPattern {
	slug = strings.TrimSpace(slug)
	category = strings.ToLower(strings.TrimSpace(category))

	if m := rollingSlugRe.FindStringSubmatch(slug); m != nil {
		return domain.MarketPattern{
			Kind:           domain.MarketKindRolling,
			BaseIdentifier: m[1] + "-" + m[2],
			Timeframe:      strings.ToLower(m[2]),
			Discoverable:   true,
		}
	}

	lower := strings.ToLower(slug)
	for _, tf := range timeframes {
		if strings.HasSuffix(lower, "-"+tf) {
			return domain.MarketPattern{
				Kind:           domain.MarketKindRolling,
				BaseIdentifier: slug,
				Timeframe:      tf,
				Discoverable:   true,
			}
		}
	}

	if isTimeframe(category) {
		base, _, _ := SplitTimestamp(slug)
		return domain.MarketPattern{
			Kind:           domain.MarketKindRolling,
			BaseIdentifier: base,
			Timeframe:      category,
			Discoverable:   true,
		}
	}

	return domain.MarketPattern{
		Kind:           domain.MarketKindOneOff,
		BaseIdentifier: slug,
		Discoverable:   false,
	}
}

func isTimeframe(s string) bool {
	for _, tf := range timeframes {
		if s == tf {
			return true
		}
	}
	return false
}

// SplitTimestamp strips a trailing "-<unix seconds>" from slug.
func SplitTimestamp(slug string) (base string, ts int64, ok bool) {
	m := trailingTSRe.FindStringSubmatch(slug)
	if m == nil {
		return slug, 0, false
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return slug, 0, false
	}
	return m[1], n, true
}

// PredictTimestamp returns the start timestamp of the instance expected to
// be live. A known timestamp within two intervals of now predicts its
// successor; otherwise the start of the current bucket is used.
func PredictTimestamp(ts int64, hasTS bool, interval time.Duration, now time.Time) int64 {
	step := int64(interval / time.Second)
	if step <= 0 {
		step = int64(DefaultInterval / time.Second)
	}
	nowSec := now.Unix()
	if hasTS && nowSec-ts <= 2*step {
		return ts + step
	}
	return (nowSec / step) * step
}

// CandidateSlugs returns the lookup order: predicted, predicted+interval,
// predicted-interval.
func CandidateSlugs(base string, predicted int64, interval time.Duration) []string {
	step := int64(interval / time.Second)
	return []string{
		base + "-" + strconv.FormatInt(predicted, 10),
		base + "-" + strconv.FormatInt(predicted+step, 10),
		base + "-" + strconv.FormatInt(predicted-step, 10),
	}
}
