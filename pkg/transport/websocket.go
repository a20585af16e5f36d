package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

const logPrefix = "transport:websocket"

// DefaultPingInterval is the keepalive period while connected.
const DefaultPingInterval = 30 * time.Second

// WebSocketOpts configures WebSocket. Nil or zero values use defaults.
type WebSocketOpts struct {
	Dialer           *websocket.Dialer
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
)

type wsEntry struct {
	state    connState
	handlers Handlers
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closing  bool
	writeMu  sync.Mutex
}

// WebSocket is a Transport over gorilla/websocket.
type WebSocket struct {
	dialer       *websocket.Dialer
	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	entries map[wcuri.URI]*wsEntry
}

// NewWebSocket creates a WebSocket transport. Pass nil for opts to use defaults.
func NewWebSocket(opts *WebSocketOpts) *WebSocket {
	w := &WebSocket{
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingInterval: DefaultPingInterval,
		writeTimeout: 10 * time.Second,
		entries:      make(map[wcuri.URI]*wsEntry),
	}
	if opts != nil {
		if opts.Dialer != nil {
			w.dialer = opts.Dialer
		}
		if opts.HandshakeTimeout > 0 {
			d := *w.dialer
			d.HandshakeTimeout = opts.HandshakeTimeout
			w.dialer = &d
		}
		if opts.PingInterval > 0 {
			w.pingInterval = opts.PingInterval
		}
		if opts.WriteTimeout > 0 {
			w.writeTimeout = opts.WriteTimeout
		}
	}
	return w
}

// Listen opens url's connection unless it is already open or opening.
func (w *WebSocket) Listen(url wcuri.URI, h Handlers) {
	w.mu.Lock()
	e, ok := w.entries[url]
	if !ok {
		e = &wsEntry{}
		w.entries[url] = e
	}
	e.handlers = h
	if e.state != stateIdle {
		w.mu.Unlock()
		slog.Debug(fmt.Sprintf("%s - listen on %s reuses existing connection", logPrefix, url.Topic))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.state = stateConnecting
	e.closing = false
	e.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx, url, e)
}

func (w *WebSocket) run(ctx context.Context, url wcuri.URI, e *wsEntry) {
	endpoint := BridgeEndpoint(url.BridgeURL)
	slog.Info(fmt.Sprintf("%s - connecting to %s for topic %s", logPrefix, endpoint, url.Topic))

	conn, _, err := w.dialer.DialContext(ctx, endpoint, nil)

	w.mu.Lock()
	h := e.handlers
	if err != nil {
		closing := e.closing
		w.reset(e)
		w.mu.Unlock()
		if closing {
			err = nil
		}
		slog.Warn(fmt.Sprintf("%s - failed to connect to %s: %v", logPrefix, endpoint, err))
		w.finish(url, e, h, err)
		return
	}
	if e.closing {
		w.reset(e)
		w.mu.Unlock()
		conn.Close()
		w.finish(url, e, h, nil)
		return
	}
	e.conn = conn
	e.state = stateOpen
	w.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - connected to %s for topic %s", logPrefix, endpoint, url.Topic))
	h.connect(url)

	done := make(chan struct{})
	go w.keepalive(conn, done)
	readErr := w.readLoop(url, e, conn)
	close(done)

	w.mu.Lock()
	h = e.handlers
	closing := e.closing
	w.reset(e)
	w.mu.Unlock()
	conn.Close()

	if closing {
		readErr = nil
		slog.Info(fmt.Sprintf("%s - disconnected from %s for topic %s", logPrefix, endpoint, url.Topic))
	} else {
		slog.Warn(fmt.Sprintf("%s - connection for topic %s dropped: %v", logPrefix, url.Topic, readErr))
	}
	w.finish(url, e, h, readErr)
}

func (w *WebSocket) readLoop(url wcuri.URI, e *wsEntry, conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		w.mu.Lock()
		h := e.handlers
		w.mu.Unlock()
		h.text(url, string(data))
	}
}

func (w *WebSocket) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				slog.Debug(fmt.Sprintf("%s - ping failed: %v", logPrefix, err))
				return
			}
		}
	}
}

// finish reports the disconnect and forgets e unless OnDisconnect listened again.
func (w *WebSocket) finish(url wcuri.URI, e *wsEntry, h Handlers, err error) {
	h.disconnect(url, err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entries[url] == e && e.state == stateIdle {
		delete(w.entries, url)
	}
}

// reset returns e to idle. Caller holds w.mu.
func (w *WebSocket) reset(e *wsEntry) {
	if e.cancel != nil {
		e.cancel()
	}
	e.state = stateIdle
	e.conn = nil
	e.cancel = nil
}

// Send writes text when url is connected and drops it otherwise.
func (w *WebSocket) Send(url wcuri.URI, text string) {
	w.mu.Lock()
	e, ok := w.entries[url]
	var conn *websocket.Conn
	if ok && e.state == stateOpen {
		conn = e.conn
	}
	w.mu.Unlock()

	if conn == nil {
		slog.Debug(fmt.Sprintf("%s - dropping frame for %s: not connected", logPrefix, url.Topic))
		return
	}

	e.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	err := conn.WriteMessage(websocket.TextMessage, []byte(text))
	e.writeMu.Unlock()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - write to %s failed: %v", logPrefix, url.Topic, err))
		conn.Close()
	}
}

func (w *WebSocket) IsConnected(url wcuri.URI) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[url]
	return ok && e.state == stateOpen
}

// Disconnect closes url's connection. OnDisconnect fires once the read loop exits.
func (w *WebSocket) Disconnect(url wcuri.URI) {
	w.mu.Lock()
	e, ok := w.entries[url]
	if !ok || e.state == stateIdle {
		w.mu.Unlock()
		return
	}
	e.closing = true
	conn := e.conn
	if e.state == stateConnecting && e.cancel != nil {
		e.cancel()
	}
	w.mu.Unlock()

	if conn == nil {
		return
	}
	e.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
	e.writeMu.Unlock()
	conn.Close()
}

// BridgeEndpoint maps a bridge URL to its WebSocket endpoint.
func BridgeEndpoint(bridgeURL string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https://"):
		return "wss://" + strings.TrimPrefix(bridgeURL, "https://")
	case strings.HasPrefix(bridgeURL, "http://"):
		return "ws://" + strings.TrimPrefix(bridgeURL, "http://")
	default:
		return bridgeURL
	}
}
