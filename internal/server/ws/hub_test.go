package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, status func() any) (*Hub, string) {
	t.Helper()
	h := NewHub(nil, status, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSendsStatusThenPublishedMessages(t *testing.T) {
	h, url := startHub(t, func() any { return map[string]bool{"polling": true} })
	conn := dial(t, url)

	env := read(t, conn)
	assert.Equal(t, "status", env.Channel)
	assert.JSONEq(t, `{"polling":true}`, string(env.Data))

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish(context.Background(), "lifecycle", []byte(`{"type":"market:active"}`)))

	env = read(t, conn)
	assert.Equal(t, "lifecycle", env.Channel)
	assert.JSONEq(t, `{"type":"market:active"}`, string(env.Data))
}

func TestHubHonoursUnsubscribe(t *testing.T) {
	h, url := startHub(t, nil)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"orders"}}))

	var c *client
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for cl := range h.clients {
			c = cl
		}
		return c != nil && !c.isSubscribed("orders")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), "orders", []byte(`{"id":"o1"}`)))
	require.NoError(t, h.Publish(context.Background(), "lifecycle", []byte(`{"type":"market:expired"}`)))

	env := read(t, conn)
	assert.Equal(t, "lifecycle", env.Channel)
}
