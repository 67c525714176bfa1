package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGammaGetEventBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		switch r.URL.Query().Get("slug") {
		case "btc-updown-15m-1770220800":
			w.Write([]byte(`[{"id":"1","slug":"btc-updown-15m-1770220800","title":"BTC","active":true,"closed":false,"markets":[{"conditionId":"0xabc"}]}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	ev, err := g.GetEventBySlug(context.Background(), "btc-updown-15m-1770220800")
	require.NoError(t, err)
	assert.True(t, ev.Open())
	require.Len(t, ev.Markets, 1)
	assert.Equal(t, "0xabc", ev.Markets[0].ConditionID)

	_, err = g.GetEventBySlug(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGammaListEventsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "false", q.Get("closed"))
		assert.Equal(t, "10192", q.Get("series_id"))
		assert.Equal(t, "100", q.Get("limit"))
		w.Write([]byte(`[{"slug":"a"},{"slug":"b"}]`))
	}))
	defer srv.Close()

	active, closed := true, false
	events, err := NewGammaClient(srv.URL).ListEvents(context.Background(), EventFilter{
		Active:   &active,
		Closed:   &closed,
		SeriesID: "10192",
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestGammaStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL).ListEvents(context.Background(), EventFilter{})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestClobGetMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/0xabc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"condition_id":"0xabc","question":"Q","taker_base_fee":100,"tokens":[{"token_id":"1","outcome":"Yes","price":0.4}]}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, WithRateLimit(100, 10))
	meta, err := c.GetMarket(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0.01", meta.TakerFee.String())
	assert.True(t, meta.Active)

	_, err = c.GetMarket(context.Background(), "0xdef")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
