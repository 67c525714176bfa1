package domain

import "time"

// LifecycleKind enumerates market lifecycle notifications.
type LifecycleKind string

const (
	LifecycleDetected LifecycleKind = "market:detected"
	LifecycleExpired  LifecycleKind = "market:expired"
	LifecycleExpiring LifecycleKind = "market:expiring"
	LifecycleActive   LifecycleKind = "market:active"
	LifecycleError    LifecycleKind = "error"
)

// LifecycleEvent is emitted by the poller and orchestrator. Previous is nil
// for the first detection. For error events Err, Failures, RetryIn and
// Fatal are populated.
type LifecycleEvent struct {
	Kind            LifecycleKind
	Market          MarketMetadata
	Previous        *MarketMetadata
	TimeUntilExpiry time.Duration
	Err             error
	Failures        int
	RetryIn         time.Duration
	Fatal           bool
	At              time.Time
}

// LifecycleHandler consumes lifecycle events.
type LifecycleHandler func(LifecycleEvent)
