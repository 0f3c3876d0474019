package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameHandler receives every inbound data frame. Handlers run on the read
// goroutine in registration order; a panicking handler is isolated from the
// rest.
type FrameHandler func(Frame)

const (
	defaultStreamURL = "wss://api.hyperliquid.xyz/ws"

	defaultPingInterval = 8 * time.Second
	defaultIdleGrace    = 5 * time.Second
	reconnectBaseMs     = 2000
	reconnectGrowth     = 1.5
	reconnectMaxMs      = 60000
	defaultDialTimeout  = 15 * time.Second

	// attemptSuppressed on the attempt counter marks a deliberate disconnect
	// so the close handler does not schedule a reconnect.
	attemptSuppressed = -1
)

type listenerEntry struct {
	name string
	fn   FrameHandler
}

type topicRef struct {
	sub  Subscription
	refs int
}

// StreamClient multiplexes one websocket connection to the Hyperliquid
// stream across any number of listeners and reference-counted topic
// subscriptions. The connection opens when the first listener registers and
// is torn down a grace period after the last one leaves.
type StreamClient struct {
	logger *zap.Logger

	streamURL    string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	idleGrace    time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	connDone       chan struct{}
	dialing        bool
	closed         bool
	attempt        int
	listeners      []listenerEntry
	subs           map[string]*topicRef
	reconnectTimer *time.Timer
	teardownTimer  *time.Timer

	writeMu sync.Mutex

	msgCount        uint64
	lastMsgUnixNano int64
}

// StreamOption customizes a StreamClient.
type StreamOption func(*StreamClient)

// WithStreamURL overrides the stream endpoint.
func WithStreamURL(url string) StreamOption {
	return func(c *StreamClient) { c.streamURL = url }
}

// WithPingInterval overrides the keepalive cadence.
func WithPingInterval(d time.Duration) StreamOption {
	return func(c *StreamClient) { c.pingInterval = d }
}

// WithIdleGrace overrides the teardown grace after the last listener leaves.
func WithIdleGrace(d time.Duration) StreamOption {
	return func(c *StreamClient) { c.idleGrace = d }
}

func NewStreamClient(logger *zap.Logger, opts ...StreamOption) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &StreamClient{
		logger:       logger,
		streamURL:    defaultStreamURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		idleGrace:    defaultIdleGrace,
		subs:         make(map[string]*topicRef),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers a frame handler under a name. The first listener
// triggers the initial dial; re-registering a name replaces its handler
// without changing its position.
func (c *StreamClient) AddListener(name string, fn FrameHandler) {
	c.mu.Lock()
	c.cancelTeardownLocked()

	replaced := false
	for i := range c.listeners {
		if c.listeners[i].name == name {
			c.listeners[i].fn = fn
			replaced = true
			break
		}
	}
	if !replaced {
		c.listeners = append(c.listeners, listenerEntry{name: name, fn: fn})
	}

	if c.attempt == attemptSuppressed {
		c.attempt = 0
	}

	needDial := c.conn == nil && !c.dialing && !c.closed
	if needDial {
		c.dialing = true
	}
	c.mu.Unlock()

	if needDial {
		go c.dial()
	}
}

// RemoveListener drops a handler. When the last listener leaves, connection
// teardown is scheduled after the idle grace period so rapid re-registration
// does not churn the socket.
func (c *StreamClient) RemoveListener(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.listeners {
		if c.listeners[i].name == name {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}

	if len(c.listeners) == 0 {
		c.scheduleTeardownLocked()
	}
}

// Subscribe increments the reference count for a topic, sending the wire
// subscribe only on the 0→1 transition. Topics registered while disconnected
// are replayed when the connection opens.
func (c *StreamClient) Subscribe(sub Subscription) error {
	key := sub.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("stream client closed")
	}
	ref, ok := c.subs[key]
	if ok {
		ref.refs++
		c.mu.Unlock()
		return nil
	}
	c.subs[key] = &topicRef{sub: sub, refs: 1}
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}

	c.logger.Info("stream ws subscribing", zap.String("topic", key))
	if err := c.writeJSON(wsCommand{Method: "subscribe", Subscription: &sub}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}

// Unsubscribe decrements a topic's reference count, sending the wire
// unsubscribe on the 1→0 transition.
func (c *StreamClient) Unsubscribe(sub Subscription) error {
	key := sub.Key()

	c.mu.Lock()
	ref, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	ref.refs--
	if ref.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, key)
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}

	c.logger.Info("stream ws unsubscribing", zap.String("topic", key))
	if err := c.writeJSON(wsCommand{Method: "unsubscribe", Subscription: &sub}); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	return nil
}

// Disconnect closes the connection without scheduling a reconnect. Listener
// and subscription state survive; a later AddListener dials again.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempt = attemptSuppressed
	c.cancelReconnectLocked()
	c.cancelTeardownLocked()
	c.closeConnLocked()
}

// Close shuts the client down for good.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.attempt = attemptSuppressed
	c.cancelReconnectLocked()
	c.cancelTeardownLocked()
	c.closeConnLocked()
	return nil
}

// Connected reports whether a live connection exists right now.
func (c *StreamClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

type WSStats struct {
	Connected     bool
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *StreamClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		Connected:     c.Connected(),
		MessageCount:  n,
		LastMessageAt: t,
	}
}

type wsCommand struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// reconnectDelay computes the backoff before reconnect attempt n.
func reconnectDelay(attempt int) time.Duration {
	ms := reconnectBaseMs * math.Pow(reconnectGrowth, float64(attempt))
	if ms > reconnectMaxMs {
		ms = reconnectMaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *StreamClient) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	conn, _, err := c.dialer.DialContext(ctx, c.streamURL, nil)
	cancel()

	if err != nil {
		c.logger.Warn("stream ws dial failed", zap.String("url", c.streamURL), zap.Error(err))
		c.mu.Lock()
		c.dialing = false
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	done := make(chan struct{})

	c.mu.Lock()
	if c.closed || len(c.listeners) == 0 {
		c.dialing = false
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connDone = done
	c.dialing = false
	c.attempt = 0
	topics := make([]Subscription, 0, len(c.subs))
	for _, ref := range c.subs {
		topics = append(topics, ref.sub)
	}
	c.mu.Unlock()

	c.logger.Info(
		"stream ws connected",
		zap.String("url", c.streamURL),
		zap.Int("topics", len(topics)),
	)

	for _, sub := range topics {
		if err := c.writeJSON(wsCommand{Method: "subscribe", Subscription: &sub}); err != nil {
			c.logger.Warn("stream ws resubscribe failed", zap.String("topic", sub.Key()), zap.Error(err))
			break
		}
	}

	go c.readLoop(conn)
	go c.pingLoop(done)
}

func (c *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.dispatch(b)
	}
}

func (c *StreamClient) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	close(c.connDone)
	c.conn = nil
	c.connDone = nil

	if c.closed || c.attempt == attemptSuppressed {
		c.mu.Unlock()
		c.logger.Info("stream ws closed")
		return
	}

	c.logger.Warn("stream ws connection lost", zap.Error(err))
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

func (c *StreamClient) scheduleReconnectLocked() {
	if c.closed || c.attempt == attemptSuppressed || len(c.listeners) == 0 {
		return
	}

	delay := reconnectDelay(c.attempt)
	c.attempt++

	c.logger.Info(
		"stream ws reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", c.attempt),
	)

	c.cancelReconnectLocked()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || c.conn != nil || c.dialing || c.attempt == attemptSuppressed {
			c.mu.Unlock()
			return
		}
		c.dialing = true
		c.mu.Unlock()
		c.dial()
	})
}

func (c *StreamClient) scheduleTeardownLocked() {
	c.cancelTeardownLocked()
	c.teardownTimer = time.AfterFunc(c.idleGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.listeners) > 0 || c.closed {
			return
		}
		c.logger.Info("stream ws idle, tearing down")
		c.attempt = attemptSuppressed
		c.cancelReconnectLocked()
		c.closeConnLocked()
	})
}

func (c *StreamClient) cancelTeardownLocked() {
	if c.teardownTimer != nil {
		c.teardownTimer.Stop()
		c.teardownTimer = nil
	}
}

func (c *StreamClient) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *StreamClient) closeConnLocked() {
	if c.conn == nil {
		return
	}
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	_ = c.conn.Close()
	c.conn = nil
}

func (c *StreamClient) dispatch(b []byte) {
	var frame Frame
	if err := json.Unmarshal(b, &frame); err != nil {
		c.logger.Debug("stream ws bad frame", zap.Error(err), zap.ByteString("frame", b))
		return
	}

	switch frame.Channel {
	case "", ChannelPong, ChannelSubResponse:
		return
	}

	c.mu.Lock()
	ls := make([]listenerEntry, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()

	for _, l := range ls {
		c.deliver(l, frame)
	}
}

func (c *StreamClient) deliver(l listenerEntry, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(
				"stream listener panicked",
				zap.String("listener", l.name),
				zap.Any("panic", r),
			)
		}
	}()
	l.fn(frame)
}

func (c *StreamClient) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *StreamClient) pingLoop(done chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := c.writeJSON(wsCommand{Method: "ping"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
