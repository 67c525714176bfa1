package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/poller"
	"github.com/alanyoungcy/marketwatch/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	meta  domain.MarketMetadata
	err    error
	calls  int
	inputs []string
}

func (f *fakeResolver) Resolve(_ context.Context, req resolver.Request) (domain.MarketMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, req.Input)
	return f.meta, f.err
}

func (f *fakeResolver) resolved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

func (f *fakeResolver) Pattern(req resolver.Request) (domain.MarketPattern, error) {
	in, err := resolver.ParseInput(req.Input)
	if err != nil {
		return domain.MarketPattern{}, err
	}
	return resolver.DetectPattern(in.Value, req.Category), nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return true }

// immediate runs the first poll cycle in the background and drops every
// later timer, so a rolling test sees exactly one cycle.
func immediate(d time.Duration, f func()) poller.Timer {
	if d == 0 {
		go f()
	}
	return stubTimer{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, res *fakeResolver) (*Orchestrator, func() []domain.LifecycleEvent) {
	t.Helper()
	o, err := New(res, poller.DefaultConfig(), discardLogger(),
		WithPollerOptions(poller.WithAfterFunc(immediate)),
	)
	require.NoError(t, err)
	t.Cleanup(o.Stop)

	var mu sync.Mutex
	var events []domain.LifecycleEvent
	o.Subscribe(func(e domain.LifecycleEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	return o, func() []domain.LifecycleEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.LifecycleEvent(nil), events...)
	}
}

func liveMarket(id string) domain.MarketMetadata {
	return domain.MarketMetadata{ConditionID: id, EndDate: time.Now().Add(time.Hour), Active: true}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "rolling": ModeRolling, "one-off": ModeOneOff, "oneoff": ModeOneOff} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("sometimes")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewRejectsInvalidPollerConfig(t *testing.T) {
	cfg := poller.DefaultConfig()
	cfg.MaxRetries = 0
	_, err := New(&fakeResolver{}, cfg, discardLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestAutoModeRollingSlugStartsPoller(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xa")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"}, ModeAuto))
	assert.True(t, o.Pattern().Rolling())
	assert.True(t, o.Polling())

	require.Eventually(t, func() bool { return len(events()) == 1 }, time.Second, 5*time.Millisecond)
	evt := events()[0]
	assert.Equal(t, domain.LifecycleDetected, evt.Kind)
	assert.Nil(t, evt.Previous)

	cur, ok := o.CurrentMarket()
	require.True(t, ok)
	assert.Equal(t, "0xa", cur.ConditionID)
}

func TestRollingPollerTracksBaseIdentifier(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xa")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"}, ModeAuto))
	require.Eventually(t, func() bool { return len(events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"btc-updown-15m"}, res.resolved())
	assert.Equal(t, "btc-updown-15m", o.Pattern().BaseIdentifier)
}

func TestForcedRollingOneOffKeepsLiteralInput(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xb")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "will-it-rain"}, ModeRolling))
	require.Eventually(t, func() bool { return len(events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"will-it-rain"}, res.resolved())
}

func TestAutoModeOneOffSlugResolvesOnce(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xe")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "https://polymarket.com/event/will-it-rain"}, ModeAuto))
	assert.False(t, o.Polling())
	assert.Equal(t, 1, res.callCount())

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, domain.LifecycleDetected, got[0].Kind)
	assert.Nil(t, got[0].Previous)
	assert.Equal(t, "0xe", got[0].Market.ConditionID)
}

func TestExplicitModeOverridesPattern(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xa")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"}, ModeOneOff))
	assert.False(t, o.Polling())
	assert.Len(t, events(), 1)

	o2, _ := newTestOrchestrator(t, &fakeResolver{meta: liveMarket("0xb")})
	require.NoError(t, o2.Start(context.Background(), resolver.Request{Input: "will-it-rain"}, ModeRolling))
	assert.True(t, o2.Polling())
}

func TestOneOffResolutionFailureIsReturned(t *testing.T) {
	res := &fakeResolver{err: domain.ErrMarketNotFound}
	o, events := newTestOrchestrator(t, res)

	err := o.Start(context.Background(), resolver.Request{Input: "gone"}, ModeOneOff)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMarketNotFound))
	assert.Empty(t, events())
	_, ok := o.CurrentMarket()
	assert.False(t, ok)
}

func TestStopDetachesAndStopsPoller(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xa")}
	o, events := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "eth-updown-1h-1770220800"}, ModeAuto))
	require.Eventually(t, func() bool { return len(events()) == 1 }, time.Second, 5*time.Millisecond)

	o.Stop()
	o.Stop()
	assert.False(t, o.Polling())

	// A second start is allowed once the previous poller is gone.
	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "eth-updown-1h-1770220800"}, ModeAuto))
	assert.True(t, o.Polling())
}

func TestStartTwiceWhileRolling(t *testing.T) {
	res := &fakeResolver{meta: liveMarket("0xa")}
	o, _ := newTestOrchestrator(t, res)

	require.NoError(t, o.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"}, ModeAuto))
	assert.Error(t, o.Start(context.Background(), resolver.Request{Input: "btc-updown-15m-1770220800"}, ModeAuto))
}
