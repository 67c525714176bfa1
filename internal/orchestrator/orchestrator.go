// Package orchestrator selects between rolling and one-off tracking for a
// market input.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/observer"
	"github.com/alanyoungcy/marketwatch/internal/poller"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
)

// Mode selects how an input is tracked.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeRolling Mode = "rolling"
	ModeOneOff  Mode = "one-off"
)

// ParseMode accepts "auto", "rolling" and "one-off" (case-insensitive).
// The empty string is auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeRolling:
		return ModeRolling, nil
	case ModeOneOff, "oneoff":
		return ModeOneOff, nil
	}
	return "", fmt.Errorf("orchestrator: %w: unknown mode %q", domain.ErrInvalidInput, s)
}

// Resolver classifies and resolves market requests.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (domain.MarketMetadata, error)
	Pattern(req resolver.Request) (domain.MarketPattern, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollerOptions passes options through to every poller created.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(o *Orchestrator) { o.pollerOpts = append(o.pollerOpts, opts...) }
}

// WithClock overrides the clock stamped on one-off events.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns at most one poller and re-emits its events.
type Orchestrator struct {
	res        Resolver
	pollCfg    poller.Config
	pollerOpts []poller.Option
	logger     *slog.Logger
	now        func() time.Time
	listeners  observer.Registry[domain.LifecycleEvent]

	mu      sync.Mutex
	poller  *poller.Poller
	pattern domain.MarketPattern
	current *domain.MarketMetadata
}

// New returns an idle Orchestrator. The poller config is validated here so
// a bad configuration fails at construction.
func New(res Resolver, cfg poller.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		res:     res,
		pollCfg: cfg,
		logger:  logger.With(slog.String("component", "orchestrator")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Subscribe registers a lifecycle listener.
func (o *Orchestrator) Subscribe(fn domain.LifecycleHandler) (remove func()) {
	return o.listeners.Add(fn)
}

// Start begins tracking req. Rolling mode starts a poller and returns at
// once; one-off mode resolves synchronously and emits a single detection.
func (o *Orchestrator) Start(ctx context.Context, req resolver.Request, mode Mode) error {
	pattern, err := o.res.Pattern(req)
	if err != nil {
		return fmt.Errorf("orchestrator: classify: %w", err)
	}

	rolling := pattern.Rolling()
	switch mode {
	case ModeRolling:
		rolling = true
	case ModeOneOff:
		rolling = false
	}

	o.mu.Lock()
	if o.poller != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already tracking %q", o.pattern.BaseIdentifier)
	}
	o.pattern = pattern
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "orchestrator: starting",
		slog.String("input", req.Input),
		slog.String("mode", string(mode)),
		slog.Bool("rolling", rolling),
		slog.String("base", pattern.BaseIdentifier),
	)

	if rolling {
		return o.startRolling(ctx, pollRequest(req, pattern))
	}
	return o.startOneOff(ctx, req)
}

// pollRequest points the poller at the family rather than the instance
// named by the caller, so each cycle predicts from the current time.
// Inputs that only run rolling because the mode forces it keep the
// literal input.
func pollRequest(req resolver.Request, pattern domain.MarketPattern) resolver.Request {
	if !pattern.Rolling() || pattern.BaseIdentifier == "" {
		return req
	}
	return resolver.Request{Input: pattern.BaseIdentifier, Category: req.Category}
}

func (o *Orchestrator) startRolling(ctx context.Context, req resolver.Request) error {
	p, err := poller.New(o.res, o.pollCfg, o.logger, o.pollerOpts...)
	if err != nil {
		return err
	}
	p.Subscribe(func(evt domain.LifecycleEvent) {
		if evt.Kind == domain.LifecycleDetected {
			o.setCurrent(evt.Market)
		}
		o.listeners.Emit(evt)
	})

	o.mu.Lock()
	o.poller = p
	o.mu.Unlock()

	p.Start(ctx, req)
	return nil
}

func (o *Orchestrator) startOneOff(ctx context.Context, req resolver.Request) error {
	meta, err := o.res.Resolve(ctx, req)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve %q: %w", req.Input, err)
	}
	o.setCurrent(meta)

	now := o.now()
	o.listeners.Emit(domain.LifecycleEvent{
		Kind:            domain.LifecycleDetected,
		Market:          meta,
		TimeUntilExpiry: meta.TimeUntilExpiry(now),
		At:              now,
	})
	return nil
}

func (o *Orchestrator) setCurrent(m domain.MarketMetadata) {
	o.mu.Lock()
	o.current = &m
	o.mu.Unlock()
}

// Stop stops the poller, if any, and detaches every listener.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	p := o.poller
	o.poller = nil
	o.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	o.listeners.Clear()
}

// Polling reports whether a poller is running.
func (o *Orchestrator) Polling() bool {
	o.mu.Lock()
	p := o.poller
	o.mu.Unlock()
	return p != nil && p.Running()
}

// CurrentMarket returns the most recently detected market.
func (o *Orchestrator) CurrentMarket() (domain.MarketMetadata, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return domain.MarketMetadata{}, false
	}
	return *o.current, true
}

// Pattern returns the classification of the tracked input.
func (o *Orchestrator) Pattern() domain.MarketPattern {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pattern
}
