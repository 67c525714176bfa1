// Package metrics provides Prometheus instrumentation for the tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LifecycleEvents counts poller and orchestrator events by kind.
	LifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_lifecycle_events_total",
		Help: "Market lifecycle events emitted, by kind",
	}, []string{"kind"})

	// Rollovers counts market:detected events that replaced a previous instance.
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_rollovers_total",
		Help: "Rollovers from one market instance to its successor",
	})

	// PollFailures is the current consecutive poll failure count.
	PollFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_poll_failures",
		Help: "Consecutive failed poll cycles",
	})

	// TimeUntilExpiry is the remaining life of the tracked market.
	TimeUntilExpiry = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_time_until_expiry_seconds",
		Help: "Seconds until the tracked market expires",
	})

	// ResolveDuration observes identity resolution latency by outcome.
	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketwatch_resolve_duration_seconds",
		Help:    "Market identity resolution latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"})

	// BookUpdates counts orderbook snapshots received per outcome token.
	BookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_book_updates_total",
		Help: "Orderbook snapshots received",
	}, []string{"outcome"})

	// StreamReconnects counts stream errors that triggered a reconnect.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_stream_errors_total",
		Help: "Stream read or dial failures",
	})

	// StreamConnected is 1 while the market channel is open.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_stream_connected",
		Help: "Whether the market stream is connected",
	})

	// OrdersTotal counts simulated orders by side and status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_orders_total",
		Help: "Simulated orders, by side and status",
	}, []string{"side", "status"})

	// OrderRejections counts rejected orders by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_order_rejections_total",
		Help: "Rejected simulated orders, by reason",
	}, []string{"reason"})

	// FilledVolume tracks cumulative filled shares by side.
	FilledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_filled_volume_total",
		Help: "Cumulative filled shares",
	}, []string{"side"})

	// WalletBalance is the virtual cash balance.
	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_wallet_balance",
		Help: "Virtual wallet cash balance",
	})

	// WalletPnL is realized plus unrealized PnL.
	WalletPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketwatch_wallet_pnl",
		Help: "Virtual wallet PnL, by kind",
	}, []string{"kind"})

	// SinkErrors counts failed writes to cache, store, bus and archive sinks.
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_sink_errors_total",
		Help: "Failed side-effect writes, by sink",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketwatch_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics. The chi route pattern is used as the
// path label when available to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
