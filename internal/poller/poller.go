// Package poller tracks a recurring market family on a timer and reports
// rollovers and expiry transitions.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/observer"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
)

const (
	// MinInterval protects the discovery API from aggressive polling.
	MinInterval = time.Second
	// MaxBackoff caps the error-driven retry delay.
	MaxBackoff = 5 * time.Minute
)

// Resolver resolves the tracked request into the current market instance.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (domain.MarketMetadata, error)
}

// Config controls cadence and failure handling.
type Config struct {
	Interval          time.Duration
	ExpiringThreshold time.Duration
	BackoffMultiplier float64
	MaxRetries        int
}

// DefaultConfig returns the standard polling parameters.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		ExpiringThreshold: 60 * time.Second,
		BackoffMultiplier: 1.5,
		MaxRetries:        10,
	}
}

// Validate rejects values the poller cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Interval < MinInterval {
		errs = append(errs, fmt.Errorf("interval %s below minimum %s", c.Interval, MinInterval))
	}
	if c.ExpiringThreshold < 0 {
		errs = append(errs, fmt.Errorf("expiring threshold %s must not be negative", c.ExpiringThreshold))
	}
	if c.BackoffMultiplier < 1 || math.IsNaN(c.BackoffMultiplier) || math.IsInf(c.BackoffMultiplier, 0) {
		errs = append(errs, fmt.Errorf("backoff multiplier %v must be >= 1", c.BackoffMultiplier))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries %d must be >= 1", c.MaxRetries))
	}
	if len(errs) > 0 {
		return fmt.Errorf("poller: %w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithAfterFunc overrides timer scheduling.
func WithAfterFunc(fn AfterFunc) Option {
	return func(p *Poller) { p.afterFunc = fn }
}

// State is the poller's single-writer bookkeeping.
type State struct {
	LastKnown      *domain.MarketMetadata
	Failures       int
	CurrentBackoff time.Duration
}

// Poller repeatedly resolves a request. Exactly one timer is armed at a
// time: the regular cadence or, after a failure, a one-shot backoff timer.
type Poller struct {
	cfg       Config
	res       Resolver
	logger    *slog.Logger
	now       func() time.Time
	afterFunc AfterFunc
	listeners observer.Registry[domain.LifecycleEvent]

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   Timer
	ctx     context.Context
	cancel  context.CancelFunc
	req     resolver.Request
	state   State
}

// New validates cfg and returns a stopped Poller.
func New(res Resolver, cfg Config, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		cfg:    cfg,
		res:    res,
		logger: logger.With(slog.String("component", "poller")),
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subscribe registers a lifecycle listener.
func (p *Poller) Subscribe(fn domain.LifecycleHandler) (remove func()) {
	return p.listeners.Add(fn)
}

// Start begins polling req. The first cycle runs immediately. Starting a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context, req resolver.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.logger.WarnContext(ctx, "poller: already running", slog.String("input", p.req.Input))
		return
	}
	p.running = true
	p.gen++
	p.req = req
	p.state.Failures = 0
	p.state.CurrentBackoff = 0
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.InfoContext(ctx, "poller: started",
		slog.String("input", req.Input),
		slog.Duration("interval", p.cfg.Interval),
	)
	p.scheduleLocked(p.gen, 0)
}

// Stop cancels every timer and any in-flight resolution and detaches all
// listeners. It is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.haltLocked()
	p.mu.Unlock()

	p.listeners.Clear()
	if wasRunning {
		p.logger.Info("poller: stopped")
	}
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// CurrentMarket returns the last detected market.
func (p *Poller) CurrentMarket() (domain.MarketMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.LastKnown == nil {
		return domain.MarketMetadata{}, false
	}
	return *p.state.LastKnown, true
}

// State returns a copy of the poller state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	if st.LastKnown != nil {
		m := *st.LastKnown
		st.LastKnown = &m
	}
	return st
}

// Backoff returns the retry delay after failures consecutive failures.
func (p *Poller) Backoff(failures int) time.Duration {
	return backoff(p.cfg.Interval, p.cfg.BackoffMultiplier, failures)
}

func backoff(interval time.Duration, mult float64, failures int) time.Duration {
	d := float64(interval) * math.Pow(mult, float64(failures))
	if d > float64(MaxBackoff) || math.IsInf(d, 0) {
		return MaxBackoff
	}
	return time.Duration(d)
}

// haltLocked stops timers and invalidates pending callbacks. Caller holds p.mu.
func (p *Poller) haltLocked() {
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// scheduleLocked arms the single timer. Caller holds p.mu.
func (p *Poller) scheduleLocked(gen uint64, d time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.afterFunc(d, func() { p.cycle(gen) })
}

// cycle runs one resolution and emits the resulting event.
func (p *Poller) cycle(gen uint64) {
	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	ctx, req := p.ctx, p.req
	p.mu.Unlock()

	meta, err := p.res.Resolve(ctx, req)

	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		p.haltLocked()
		p.mu.Unlock()
		p.logger.Info("poller: context done, stopping")
		return
	}

	var evt domain.LifecycleEvent
	var next time.Duration
	if err != nil {
		evt, next = p.failureLocked(err)
	} else {
		evt = p.successLocked(meta)
		next = p.cfg.Interval
	}
	fatal := evt.Fatal
	p.mu.Unlock()

	p.listeners.Emit(evt)

	if fatal {
		return
	}
	p.mu.Lock()
	if p.running && gen == p.gen {
		p.scheduleLocked(gen, next)
	}
	p.mu.Unlock()
}

func (p *Poller) failureLocked(err error) (domain.LifecycleEvent, time.Duration) {
	p.state.Failures++
	k := p.state.Failures
	evt := domain.LifecycleEvent{
		Kind:     domain.LifecycleError,
		Err:      err,
		Failures: k,
		At:       p.now(),
	}

	if k >= p.cfg.MaxRetries {
		p.haltLocked()
		evt.Fatal = true
		p.logger.Error("poller: max retries reached, stopping",
			slog.Int("failures", k),
			slog.String("error", err.Error()),
		)
		return evt, 0
	}

	delay := backoff(p.cfg.Interval, p.cfg.BackoffMultiplier, k)
	p.state.CurrentBackoff = delay
	evt.RetryIn = delay
	p.logger.Warn("poller: resolution failed",
		slog.Int("failures", k),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
	return evt, delay
}

func (p *Poller) successLocked(meta domain.MarketMetadata) domain.LifecycleEvent {
	now := p.now()
	p.state.Failures = 0
	p.state.CurrentBackoff = 0

	prev := p.state.LastKnown
	current := meta
	p.state.LastKnown = &current

	if prev == nil || prev.ConditionID != meta.ConditionID {
		var previous *domain.MarketMetadata
		if prev != nil {
			pm := *prev
			previous = &pm
		}
		p.logger.Info("poller: market detected",
			slog.String("condition_id", meta.ConditionID),
			slog.String("slug", meta.Slug),
			slog.Bool("rollover", previous != nil),
		)
		return domain.LifecycleEvent{
			Kind:            domain.LifecycleDetected,
			Market:          meta,
			Previous:        previous,
			TimeUntilExpiry: meta.TimeUntilExpiry(now),
			At:              now,
		}
	}

	tue := meta.TimeUntilExpiry(now)
	kind := domain.LifecycleActive
	switch {
	case tue < 0:
		kind = domain.LifecycleExpired
	case tue <= p.cfg.ExpiringThreshold:
		kind = domain.LifecycleExpiring
	}
	return domain.LifecycleEvent{
		Kind:            kind,
		Market:          meta,
		TimeUntilExpiry: tue,
		At:              now,
	}
}
