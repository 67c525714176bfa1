package service

import (
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// lifecycleMessage is the wire form of a lifecycle event on the signal bus
// and the API websocket.
type lifecycleMessage struct {
	Type              string                 `json:"type"`
	Market            *domain.MarketMetadata `json:"market,omitempty"`
	Previous          *domain.MarketMetadata `json:"previous,omitempty"`
	TimeUntilExpiryMS int64                  `json:"time_until_expiry_ms,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Failures          int                    `json:"failures,omitempty"`
	RetryInMS         int64                  `json:"retry_in_ms,omitempty"`
	Fatal             bool                   `json:"fatal,omitempty"`
	At                time.Time              `json:"at"`
}

func newLifecycleMessage(ev domain.LifecycleEvent) lifecycleMessage {
	msg := lifecycleMessage{
		Type:     string(ev.Kind),
		Previous: ev.Previous,
		At:       ev.At.UTC(),
	}
	if ev.Kind == domain.LifecycleError {
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
		msg.Failures = ev.Failures
		msg.RetryInMS = ev.RetryIn.Milliseconds()
		msg.Fatal = ev.Fatal
		return msg
	}
	m := ev.Market
	msg.Market = &m
	msg.TimeUntilExpiryMS = ev.TimeUntilExpiry.Milliseconds()
	return msg
}
