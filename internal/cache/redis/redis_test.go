package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to MARKETWATCH_TEST_REDIS_ADDR with a unique key
// prefix, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("MARKETWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETWATCH_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4, KeyPrefix: "mwtest:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderbookCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	oc := NewOrderbookCache(c, time.Minute)

	_, err := oc.GetSnapshot(ctx, "tok")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	snap := domain.OrderbookSnapshot{
		AssetID:   "tok",
		Bids:      []domain.PriceLevel{{Price: dec("0.39"), Size: dec("10")}},
		Asks:      []domain.PriceLevel{{Price: dec("0.45"), Size: dec("30")}, {Price: dec("0.40"), Size: dec("20")}},
		Timestamp: time.UnixMilli(1770220800123).UTC(),
		Hash:      "h",
	}
	require.NoError(t, oc.SetSnapshot(ctx, snap))

	got, err := oc.GetSnapshot(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "h", got.Hash)
	assert.Len(t, got.Asks, 2)
	assert.True(t, got.Timestamp.Equal(snap.Timestamp))

	bid, ask, err := oc.GetBBO(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "0.39", bid.String())
	assert.Equal(t, "0.4", ask.String())
}

func TestMarketCacheTokenIndex(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)

	m := domain.MarketMetadata{
		ConditionID: "0xabc",
		Slug:        "btc-updown-15m-1770220800",
		Tokens:      []domain.MarketToken{{TokenID: "up", Outcome: "Up"}, {TokenID: "down", Outcome: "Down"}},
		TickSize:    dec("0.01"),
	}
	require.NoError(t, mc.Set(ctx, m))

	got, err := mc.GetByToken(ctx, "down")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.ConditionID)
	assert.Equal(t, "0.01", got.TickSize.String())

	require.NoError(t, mc.Invalidate(ctx, "0xabc"))
	_, err = mc.GetByToken(ctx, "up")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCache(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c)

	ts := time.Unix(1770220800, 5).UTC()
	require.NoError(t, pc.SetPrice(ctx, "a", dec("0.415"), ts))

	p, gotTS, err := pc.GetPrice(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "0.415", p.String())
	assert.True(t, gotTS.Equal(ts))

	all, err := pc.GetPrices(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSignalBusStream(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, StreamLifecycle, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, StreamLifecycle, []byte(`{"kind":"market:detected"}`)))
	msgs, err = sb.StreamRead(ctx, StreamLifecycle, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"kind":"market:detected"}`, string(msgs[0].Payload))
}

func TestSignalBusPubSub(t *testing.T) {
	c := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c)

	ch, err := sb.Subscribe(ctx, ChannelLifecycle)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, ChannelLifecycle, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
