package notify

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// Event names accepted in the notify.events config list.
const (
	EventMarketDetected = "market_detected"
	EventMarketExpiring = "market_expiring"
	EventMarketExpired  = "market_expired"
	EventFatalError     = "fatal_error"
	EventPollError      = "poll_error"
)

// Alert renders a lifecycle event as a notification. Routine market:active
// events are not alerted and return ok=false.
func Alert(ev domain.LifecycleEvent) (event, title, message string, ok bool) {
	m := ev.Market
	switch ev.Kind {
	case domain.LifecycleDetected:
		if ev.Previous != nil {
			return EventMarketDetected, "Market rolled over",
				fmt.Sprintf("%s -> %s\nends %s", label(*ev.Previous), label(m), m.EndDate.UTC().Format(time.RFC3339)), true
		}
		return EventMarketDetected, "Tracking market",
			fmt.Sprintf("%s\n%s\nends %s", label(m), m.Question, m.EndDate.UTC().Format(time.RFC3339)), true
	case domain.LifecycleExpiring:
		return EventMarketExpiring, "Market expiring",
			fmt.Sprintf("%s expires in %s", label(m), ev.TimeUntilExpiry.Round(time.Second)), true
	case domain.LifecycleExpired:
		return EventMarketExpired, "Market expired", label(m), true
	case domain.LifecycleError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if ev.Fatal {
			return EventFatalError, "Tracking stopped",
				fmt.Sprintf("gave up after %d failures: %s", ev.Failures, msg), true
		}
		return EventPollError, "Poll failed",
			fmt.Sprintf("failure %d, retry in %s: %s", ev.Failures, ev.RetryIn.Round(time.Second), msg), true
	}
	return "", "", "", false
}

func label(m domain.MarketMetadata) string {
	if m.Slug != "" {
		return m.Slug
	}
	return m.ConditionID
}
