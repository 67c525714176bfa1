package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventFatalError, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventMarketDetected, "a", ""))
	require.NoError(t, n.Notify(context.Background(), EventFatalError, "b", ""))
	assert.Equal(t, []string{"b"}, s.titles)
	assert.True(t, n.Enabled())

	all := NewNotifier([]Sender{s}, nil, discard())
	assert.True(t, all.Allows(EventPollError))
}

func TestNotifierJoinsSenderFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventMarketExpired, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Title", "body"))
	assert.Equal(t, "**Title**\nbody", got["content"])
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestTelegramSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "42").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestAlert(t *testing.T) {
	prev := domain.MarketMetadata{Slug: "btc-updown-15m-1770220800"}
	cur := domain.MarketMetadata{Slug: "btc-updown-15m-1770221700", EndDate: time.Unix(1770222600, 0)}

	ev, title, msg, ok := Alert(domain.LifecycleEvent{Kind: domain.LifecycleDetected, Market: cur, Previous: &prev})
	require.True(t, ok)
	assert.Equal(t, EventMarketDetected, ev)
	assert.Equal(t, "Market rolled over", title)
	assert.Contains(t, msg, "btc-updown-15m-1770220800 -> btc-updown-15m-1770221700")

	ev, _, msg, ok = Alert(domain.LifecycleEvent{Kind: domain.LifecycleExpiring, Market: cur, TimeUntilExpiry: 42 * time.Second})
	require.True(t, ok)
	assert.Equal(t, EventMarketExpiring, ev)
	assert.Contains(t, msg, "42s")

	ev, _, _, ok = Alert(domain.LifecycleEvent{Kind: domain.LifecycleError, Err: errors.New("x"), Failures: 10, Fatal: true})
	require.True(t, ok)
	assert.Equal(t, EventFatalError, ev)

	ev, _, _, ok = Alert(domain.LifecycleEvent{Kind: domain.LifecycleError, Err: errors.New("x"), Failures: 1})
	require.True(t, ok)
	assert.Equal(t, EventPollError, ev)

	_, _, _, ok = Alert(domain.LifecycleEvent{Kind: domain.LifecycleActive})
	assert.False(t, ok)
}
