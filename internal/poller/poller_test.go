package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// scheduler records armed timers; tests fire them by hand.
type scheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *scheduler) afterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *scheduler) armed() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single armed timer and returns its delay.
func (s *scheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	armed := s.armed()
	require.Len(t, armed, 1, "exactly one timer must be armed")
	tm := armed[0]
	s.mu.Lock()
	tm.stopped = true
	s.mu.Unlock()
	tm.fn()
	return tm.delay
}

type step struct {
	meta domain.MarketMetadata
	err  error
}

type scriptedResolver struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (r *scriptedResolver) Resolve(context.Context, resolver.Request) (domain.MarketMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	return r.steps[i].meta, r.steps[i].err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Unix(1770220800, 0).UTC()

func market(id string, end time.Time) domain.MarketMetadata {
	return domain.MarketMetadata{ConditionID: id, Slug: "btc-updown-15m-" + id, EndDate: end, Active: true}
}

func newTestPoller(t *testing.T, res Resolver, cfg Config, now *time.Time) (*Poller, *scheduler, *[]domain.LifecycleEvent) {
	t.Helper()
	s := &scheduler{}
	p, err := New(res, cfg, discardLogger(),
		WithAfterFunc(s.afterFunc),
		WithClock(func() time.Time { return *now }),
	)
	require.NoError(t, err)
	var events []domain.LifecycleEvent
	p.Subscribe(func(e domain.LifecycleEvent) { events = append(events, e) })
	return p, s, &events
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"interval", func(c *Config) { c.Interval = 500 * time.Millisecond }},
		{"threshold", func(c *Config) { c.ExpiringThreshold = -time.Second }},
		{"multiplier", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"retries", func(c *Config) { c.MaxRetries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)

			_, err = New(&scriptedResolver{}, cfg, discardLogger())
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p, err := New(&scriptedResolver{}, DefaultConfig(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, p.Backoff(1))
	assert.Equal(t, 67500*time.Millisecond, p.Backoff(2))
	assert.Equal(t, MaxBackoff, p.Backoff(20))
	assert.Equal(t, MaxBackoff, p.Backoff(10000))
}

func TestPollerDetectsThenReportsExpiryStates(t *testing.T) {
	now := base
	end := base.Add(5 * time.Minute)
	res := &scriptedResolver{steps: []step{{meta: market("0xa", end)}}}
	cfg := DefaultConfig()
	p, s, events := newTestPoller(t, res, cfg, &now)

	p.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"})
	assert.True(t, p.Running())

	assert.Equal(t, time.Duration(0), s.fire(t))
	require.Len(t, *events, 1)
	first := (*events)[0]
	assert.Equal(t, domain.LifecycleDetected, first.Kind)
	assert.Nil(t, first.Previous)
	assert.Equal(t, "0xa", first.Market.ConditionID)

	assert.Equal(t, cfg.Interval, s.fire(t))
	assert.Equal(t, domain.LifecycleActive, (*events)[1].Kind)

	now = end.Add(-30 * time.Second)
	s.fire(t)
	assert.Equal(t, domain.LifecycleExpiring, (*events)[2].Kind)
	assert.Equal(t, 30*time.Second, (*events)[2].TimeUntilExpiry)

	now = end.Add(time.Second)
	s.fire(t)
	assert.Equal(t, domain.LifecycleExpired, (*events)[3].Kind)

	cur, ok := p.CurrentMarket()
	require.True(t, ok)
	assert.Equal(t, "0xa", cur.ConditionID)
}

func TestPollerRolloverCarriesPrevious(t *testing.T) {
	now := base
	res := &scriptedResolver{steps: []step{
		{meta: market("0xa", base.Add(time.Minute))},
		{meta: market("0xb", base.Add(16 * time.Minute))},
	}}
	p, s, events := newTestPoller(t, res, DefaultConfig(), &now)

	p.Start(context.Background(), resolver.Request{Input: "x"})
	s.fire(t)
	s.fire(t)

	require.Len(t, *events, 2)
	roll := (*events)[1]
	assert.Equal(t, domain.LifecycleDetected, roll.Kind)
	require.NotNil(t, roll.Previous)
	assert.Equal(t, "0xa", roll.Previous.ConditionID)
	assert.Equal(t, "0xb", roll.Market.ConditionID)
}

func TestPollerBackoffThenRecovers(t *testing.T) {
	now := base
	boom := errors.New("gamma down")
	res := &scriptedResolver{steps: []step{
		{err: boom},
		{err: boom},
		{meta: market("0xa", base.Add(time.Hour))},
	}}
	cfg := DefaultConfig()
	p, s, events := newTestPoller(t, res, cfg, &now)

	p.Start(context.Background(), resolver.Request{Input: "x"})

	s.fire(t)
	require.Len(t, *events, 1)
	e1 := (*events)[0]
	assert.Equal(t, domain.LifecycleError, e1.Kind)
	assert.ErrorIs(t, e1.Err, boom)
	assert.Equal(t, 1, e1.Failures)
	assert.Equal(t, p.Backoff(1), e1.RetryIn)
	assert.False(t, e1.Fatal)

	assert.Equal(t, p.Backoff(1), s.fire(t))
	assert.Equal(t, 2, (*events)[1].Failures)
	assert.Equal(t, p.Backoff(2), p.State().CurrentBackoff)

	assert.Equal(t, p.Backoff(2), s.fire(t))
	assert.Equal(t, domain.LifecycleDetected, (*events)[2].Kind)
	assert.Zero(t, p.State().Failures)

	// Regular cadence resumes after success.
	assert.Equal(t, cfg.Interval, s.armed()[0].delay)
}

func TestPollerStopsAfterMaxRetries(t *testing.T) {
	now := base
	res := &scriptedResolver{steps: []step{{err: errors.New("nope")}}}
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	p, s, events := newTestPoller(t, res, cfg, &now)

	p.Start(context.Background(), resolver.Request{Input: "x"})
	s.fire(t)
	s.fire(t)
	s.fire(t)

	assert.False(t, p.Running())
	assert.Empty(t, s.armed())
	require.Len(t, *events, 3)

	fatal := 0
	for _, e := range *events {
		if e.Fatal {
			fatal++
		}
	}
	assert.Equal(t, 1, fatal)
	assert.True(t, (*events)[2].Fatal)
	assert.Equal(t, 3, res.calls)
}

func TestPollerStopIsIdempotentAndDetaches(t *testing.T) {
	now := base
	res := &scriptedResolver{steps: []step{{meta: market("0xa", base.Add(time.Hour))}}}
	p, s, events := newTestPoller(t, res, DefaultConfig(), &now)

	p.Start(context.Background(), resolver.Request{Input: "x"})
	pending := s.armed()
	require.Len(t, pending, 1)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
	assert.Empty(t, s.armed())

	// A stale callback that slipped past Stop must not resolve or re-arm.
	pending[0].fn()
	assert.Zero(t, res.calls)
	assert.Empty(t, s.armed())
	assert.Empty(t, *events)
}

func TestPollerStartWhileRunningIsNoop(t *testing.T) {
	now := base
	res := &scriptedResolver{steps: []step{{meta: market("0xa", base.Add(time.Hour))}}}
	p, s, _ := newTestPoller(t, res, DefaultConfig(), &now)

	p.Start(context.Background(), resolver.Request{Input: "x"})
	p.Start(context.Background(), resolver.Request{Input: "y"})
	assert.Len(t, s.armed(), 1)
}

func TestPollerHaltsWhenContextDone(t *testing.T) {
	now := base
	res := &scriptedResolver{steps: []step{{err: context.Canceled}}}
	p, s, events := newTestPoller(t, res, DefaultConfig(), &now)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, resolver.Request{Input: "x"})
	cancel()
	s.fire(t)

	assert.False(t, p.Running())
	assert.Empty(t, *events)
	assert.Empty(t, s.armed())
}
