package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/observer"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next frame or transport pong.
	pongWait = 60 * time.Second

	// heartbeatPeriod is the cadence of the application-level "PING" frame.
	heartbeatPeriod = 30 * time.Second

	// reconnectDelay is the fixed wait between a close and the next attempt.
	reconnectDelay = 5 * time.Second

	handshakeTimeout = 15 * time.Second
)

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// StreamOption configures a StreamClient.
type StreamOption func(*StreamClient)

// WithDialer replaces the default gorilla dialer.
func WithDialer(d Dialer) StreamOption {
	return func(c *StreamClient) { c.dialer = d }
}

// WithReconnectDelay overrides the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) StreamOption {
	return func(c *StreamClient) { c.reconnectDelay = d }
}

// WithHeartbeat overrides the heartbeat cadence.
func WithHeartbeat(d time.Duration) StreamOption {
	return func(c *StreamClient) { c.heartbeat = d }
}

// StreamClient is a WebSocket client for the Polymarket CLOB market channel.
// Subscriptions are remembered independently of the connection and
// replayed on every open, so reconnects are invisible to callers.
type StreamClient struct {
	url            string
	dialer         Dialer
	logger         *slog.Logger
	reconnectDelay time.Duration
	heartbeat      time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	connecting     bool
	closed         bool
	gen            uint64 // bumped by Disconnect; stale timers compare against it
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   []string
	subSet map[string]struct{}

	books      observer.Registry[domain.OrderbookSnapshot]
	prices     observer.Registry[domain.PriceChange]
	trades     observer.Registry[domain.LastTradePrice]
	errs       observer.Registry[error]
	assetMu    sync.RWMutex
	assetBooks map[string]*observer.Registry[domain.OrderbookSnapshot]
}

// NewStreamClient creates a client for the given market-channel URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewStreamClient(url string, logger *slog.Logger, opts ...StreamOption) *StreamClient {
	c := &StreamClient{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:         logger.With(slog.String("component", "stream")),
		reconnectDelay: reconnectDelay,
		heartbeat:      heartbeatPeriod,
		subSet:         make(map[string]struct{}),
		assetBooks:     make(map[string]*observer.Registry[domain.OrderbookSnapshot]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the feed. It is a no-op while a connection is open and is
// rejected with domain.ErrAlreadyConnecting while a dial is outstanding.
// A failed dial still schedules the reconnect loop.
func (c *StreamClient) Connect(ctx context.Context) error {
	return c.connect(ctx, false, 0)
}

func (c *StreamClient) connect(ctx context.Context, fromTimer bool, timerGen uint64) error {
	c.mu.Lock()
	if fromTimer && (c.closed || timerGen != c.gen) {
		c.mu.Unlock()
		return domain.ErrStreamClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		c.logger.Warn("stream: connect called while already connected")
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		c.logger.Warn("stream: connect called while connection in progress")
		return fmt.Errorf("polymarket/stream: %w", domain.ErrAlreadyConnecting)
	}
	c.connecting = true
	c.closed = false
	c.stopReconnectLocked()
	gen := c.gen
	url := c.url
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, url, nil)

	c.mu.Lock()
	c.connecting = false
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("polymarket/stream: %w", domain.ErrStreamClosed)
	}
	if err != nil {
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		c.logger.Error("stream: connect failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		c.errs.Emit(err)
		return fmt.Errorf("polymarket/stream: connect: %w", err)
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go c.readLoop(conn, gen, done)
	go c.heartbeatLoop(conn, done)

	c.logger.Info("stream: connected", slog.String("url", url))

	if ids := c.SubscribedAssets(); len(ids) > 0 {
		if err := c.send(conn, SubscribeCommand{Type: "market", Assets: ids}); err != nil {
			// The read loop observes the broken connection and reconnects.
			c.logger.Warn("stream: replay subscriptions failed", slog.String("error", err.Error()))
		} else {
			c.logger.Info("stream: subscriptions replayed", slog.Int("assets", len(ids)))
		}
	}

	return nil
}

// Subscribe remembers ids for replay and, when connected, subscribes to
// them immediately. Already-known ids are ignored.
func (c *StreamClient) Subscribe(ids ...string) error {
	added := c.addSubs(ids)
	if len(added) == 0 {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if err := c.send(conn, SubscribeCommand{Type: "market", Assets: added}); err != nil {
		return fmt.Errorf("polymarket/stream: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe drops ids from the replay set. The market channel has no
// unsubscribe primitive, so the current connection keeps delivering them.
func (c *StreamClient) Unsubscribe(ids ...string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.subSet[id]; ok {
			drop[id] = struct{}{}
			delete(c.subSet, id)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := c.subs[:0]
	for _, id := range c.subs {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	c.subs = kept
}

// SwitchSubscription replaces previous ids with next ids, typically on a
// market rollover.
func (c *StreamClient) SwitchSubscription(previous, next []string) error {
	c.Unsubscribe(previous...)
	return c.Subscribe(next...)
}

// SubscribedAssets returns the remembered subscription set in insertion order.
func (c *StreamClient) SubscribedAssets() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return append([]string(nil), c.subs...)
}

// IsConnected reports whether a connection is currently open.
func (c *StreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect cancels any pending reconnect, closes the connection, forgets
// every subscription and detaches all listeners. It is safe to call at any
// time and more than once.
func (c *StreamClient) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.stopReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = nil
	c.subSet = make(map[string]struct{})
	c.subMu.Unlock()

	c.books.Clear()
	c.prices.Clear()
	c.trades.Clear()
	c.errs.Clear()
	c.assetMu.Lock()
	c.assetBooks = make(map[string]*observer.Registry[domain.OrderbookSnapshot])
	c.assetMu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()

	c.logger.Info("stream: disconnected")
	return conn.Close()
}

// OnOrderbook registers a listener for every book snapshot.
func (c *StreamClient) OnOrderbook(fn func(domain.OrderbookSnapshot)) (remove func()) {
	return c.books.Add(fn)
}

// OnAssetOrderbook registers a listener for book snapshots of one asset.
func (c *StreamClient) OnAssetOrderbook(assetID string, fn func(domain.OrderbookSnapshot)) (remove func()) {
	c.assetMu.Lock()
	reg, ok := c.assetBooks[assetID]
	if !ok {
		reg = &observer.Registry[domain.OrderbookSnapshot]{}
		c.assetBooks[assetID] = reg
	}
	c.assetMu.Unlock()
	return reg.Add(fn)
}

// OnPriceChange registers a listener for incremental level updates.
func (c *StreamClient) OnPriceChange(fn func(domain.PriceChange)) (remove func()) {
	return c.prices.Add(fn)
}

// OnLastTrade registers a listener for last-trade-price messages.
func (c *StreamClient) OnLastTrade(fn func(domain.LastTradePrice)) (remove func()) {
	return c.trades.Add(fn)
}

// OnError registers a listener for transport errors.
func (c *StreamClient) OnError(fn func(error)) (remove func()) {
	return c.errs.Add(fn)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (c *StreamClient) addSubs(ids []string) []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.subSet[id]; ok {
			continue
		}
		c.subSet[id] = struct{}{}
		c.subs = append(c.subs, id)
		added = append(added, id)
	}
	return added
}

func (c *StreamClient) send(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.write(conn, websocket.TextMessage, data)
}

func (c *StreamClient) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

// stopReconnectLocked cancels a pending reconnect. Caller holds c.mu.
func (c *StreamClient) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// scheduleReconnectLocked arms the single reconnect timer. Caller holds c.mu.
func (c *StreamClient) scheduleReconnectLocked(gen uint64) {
	c.stopReconnectLocked()
	c.logger.Info("stream: reconnect scheduled", slog.Duration("delay", c.reconnectDelay))
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		stale := c.closed || gen != c.gen
		c.reconnectTimer = nil
		c.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		defer cancel()
		_ = c.connect(ctx, true, gen)
	})
}

// readLoop reads frames until the connection fails, then hands off to the
// reconnect path.
func (c *StreamClient) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *StreamClient) handleClose(conn *websocket.Conn, gen uint64, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("stream: connection closed by peer")
		return
	}
	c.logger.Warn("stream: connection lost", slog.String("error", err.Error()))
	c.errs.Emit(err)
}

// heartbeatLoop sends the application "PING" frame and a transport ping on
// every tick. Missing "PONG" replies are not treated as failure.
func (c *StreamClient) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(conn, websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes one frame. A frame may be a single object or an
// array of objects. Anything that does not decode is dropped.
func (c *StreamClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.EqualFold(raw, []byte("PONG")) || bytes.EqualFold(raw, []byte("PING")) {
		return
	}

	if raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			c.logger.Debug("stream: dropping malformed frame", slog.String("error", err.Error()))
			return
		}
		for _, item := range batch {
			c.dispatch(item)
		}
		return
	}

	c.dispatch(raw)
}

func (c *StreamClient) dispatch(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		MsgType   string `json:"msg_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Debug("stream: dropping malformed message", slog.String("error", err.Error()))
		return
	}

	kind := envelope.EventType
	if kind == "" {
		kind = envelope.MsgType
	}

	switch kind {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			c.logger.Debug("stream: bad book message", slog.String("error", err.Error()))
			return
		}
		snap := BookToDomainSnapshot(&book)
		c.books.Emit(snap)

		c.assetMu.RLock()
		reg := c.assetBooks[snap.AssetID]
		c.assetMu.RUnlock()
		if reg != nil {
			reg.Emit(snap)
		}

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			c.logger.Debug("stream: bad price_change message", slog.String("error", err.Error()))
			return
		}
		for _, change := range PriceChangesToDomain(&pc) {
			c.prices.Emit(change)
		}

	case "last_trade_price":
		var lt LastTradeMessage
		if err := json.Unmarshal(raw, &lt); err != nil {
			c.logger.Debug("stream: bad last_trade_price message", slog.String("error", err.Error()))
			return
		}
		c.trades.Emit(LastTradeToDomain(&lt))

	default:
		c.logger.Debug("stream: ignoring message", slog.String("event_type", kind))
	}
}
