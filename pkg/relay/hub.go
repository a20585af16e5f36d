// Package relay implements the bridge: a WebSocket pub/sub hub that forwards opaque
// envelopes between peers subscribed to the same topic.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/morezero/walletconnect/pkg/events"
	"github.com/morezero/walletconnect/pkg/serializer"
)

const logPrefix = "relay:hub"

// Hub defaults.
const (
	DefaultPublishRPS   = 50
	DefaultPublishBurst = 100
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
	DefaultSendBuffer   = 64
)

// Frame sources reported on the frames counter.
const (
	SourceLocal     = "local"
	SourceBackplane = "backplane"
)

// HubOpts configures a Hub. Nil or zero values use defaults.
type HubOpts struct {
	// Store keeps frames for topics without subscribers. Defaults to a MemoryStore.
	Store PendingStore
	// Publisher mirrors locally published frames to other bridge nodes.
	Publisher    events.EventPublisher
	Metrics      *Metrics
	NodeID       string
	PublishRPS   float64
	PublishBurst int
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	SendBuffer   int
}

// Hub accepts bridge connections and routes frames between them.
type Hub struct {
	store        PendingStore
	publisher    events.EventPublisher
	metrics      *Metrics
	nodeID       string
	rps          rate.Limit
	burst        int
	pingInterval time.Duration
	writeTimeout time.Duration
	readLimit    int64
	sendBuffer   int
	upgrader     websocket.Upgrader

	// pendingMu orders a subscribe's flush against a publish that found no subscriber.
	pendingMu sync.Mutex

	mu     sync.RWMutex
	topics map[string]map[*peer]struct{}
	peers  map[*peer]struct{}
	closed bool
}

// NewHub creates a Hub. Pass nil for opts to use defaults.
func NewHub(opts *HubOpts) *Hub {
	if opts == nil {
		opts = &HubOpts{}
	}
	h := &Hub{
		store:        opts.Store,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		nodeID:       opts.NodeID,
		rps:          rate.Limit(DefaultPublishRPS),
		burst:        DefaultPublishBurst,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		sendBuffer:   DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// dApps connect from arbitrary web origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		topics: make(map[string]map[*peer]struct{}),
		peers:  make(map[*peer]struct{}),
	}
	if h.store == nil {
		h.store = NewMemoryStore(0)
	}
	if h.publisher == nil {
		h.publisher = events.Discard
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if opts.PublishRPS > 0 {
		h.rps = rate.Limit(opts.PublishRPS)
	}
	if opts.PublishBurst > 0 {
		h.burst = opts.PublishBurst
	}
	if opts.PingInterval > 0 {
		h.pingInterval = opts.PingInterval
	}
	if opts.WriteTimeout > 0 {
		h.writeTimeout = opts.WriteTimeout
	}
	if opts.ReadLimit > 0 {
		h.readLimit = opts.ReadLimit
	}
	if opts.SendBuffer > 0 {
		h.sendBuffer = opts.SendBuffer
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "bridge is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - upgrade from %s failed: %v", logPrefix, r.RemoteAddr, err))
		return
	}

	p := &peer{
		hub:     h,
		conn:    conn,
		remote:  r.RemoteAddr,
		limiter: rate.NewLimiter(h.rps, h.burst),
		send:    make(chan string, h.sendBuffer),
		done:    make(chan struct{}),
		topics:  make(map[string]struct{}),
	}
	if !h.register(p) {
		conn.Close()
		return
	}
	slog.Debug(fmt.Sprintf("%s - peer %s connected", logPrefix, p.remote))

	go p.writeLoop()
	p.readLoop(r.Context())
}

// Deliver hands a backplane frame to local subscribers. Backplane frames are never stored as
// pending: a mirroring node already stored its own, and NATS peers may have live
// subscribers the hub cannot see.
func (h *Hub) Deliver(env *events.RelayedEnvelope) {
	h.metrics.Frames.WithLabelValues(serializer.TypePub, SourceBackplane).Inc()
	n := h.fanout(env.Topic, env.Frame, nil)
	slog.Debug(fmt.Sprintf("%s - backplane frame for %s from %q reached %d peers", logPrefix, env.Topic, env.Origin, n))
}

// Subscribers returns the number of local connections subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Peers returns the number of open connections.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close refuses new connections and closes the open ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.closeWith(websocket.CloseGoingAway)
	}
	slog.Info(fmt.Sprintf("%s - closed %d connections", logPrefix, len(peers)))
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	h.metrics.Connections.Inc()
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	for topic := range p.topics {
		if subs := h.topics[topic]; subs != nil {
			delete(subs, p)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.metrics.Connections.Dec()
}

func (h *Hub) handleFrame(ctx context.Context, p *peer, text string) {
	env, err := serializer.ParseEnvelope(text)
	if err != nil {
		h.metrics.Dropped.WithLabelValues(DropInvalid).Inc()
		slog.Debug(fmt.Sprintf("%s - invalid frame from %s: %v", logPrefix, p.remote, err))
		return
	}
	h.metrics.Frames.WithLabelValues(env.Type, SourceLocal).Inc()

	switch env.Type {
	case serializer.TypeSub:
		h.subscribe(ctx, p, env.Topic)
	case serializer.TypePub:
		if !p.limiter.Allow() {
			h.metrics.Dropped.WithLabelValues(DropRateLimited).Inc()
			slog.Warn(fmt.Sprintf("%s - rate limit exceeded by %s on %s", logPrefix, p.remote, env.Topic))
			return
		}
		h.publish(ctx, p, env.Topic, text)
	}
}

func (h *Hub) subscribe(ctx context.Context, p *peer, topic string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	h.mu.Lock()
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*peer]struct{})
		h.topics[topic] = subs
	}
	subs[p] = struct{}{}
	p.topics[topic] = struct{}{}
	h.mu.Unlock()

	frames, err := h.store.Take(ctx, topic)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to load pending frames for %s: %v", logPrefix, topic, err))
		return
	}
	for i, f := range frames {
		if !p.enqueueWait(f, h.writeTimeout) {
			h.restorePending(context.WithoutCancel(ctx), topic, frames[i:])
			return
		}
		h.metrics.Delivered.Inc()
	}
	if len(frames) > 0 {
		slog.Debug(fmt.Sprintf("%s - flushed %d pending frames on %s", logPrefix, len(frames), topic))
	}
}

func (h *Hub) publish(ctx context.Context, from *peer, topic, frame string) {
	if h.fanout(topic, frame, from) == 0 {
		h.storePending(ctx, from, topic, frame)
	}

	env := &events.RelayedEnvelope{
		Origin:    h.nodeID,
		Topic:     topic,
		Frame:     frame,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := h.publisher.PublishRelayed(ctx, env); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to mirror frame for %s: %v", logPrefix, topic, err))
	}
}

// restorePending puts back frames a failed flush never handed to its subscriber. The caller
// holds pendingMu.
func (h *Hub) restorePending(ctx context.Context, topic string, frames []string) {
	lost := 0
	for _, f := range frames {
		if err := h.store.Save(ctx, topic, f); err != nil {
			h.metrics.Dropped.WithLabelValues(DropStoreError).Inc()
			lost++
		}
	}
	if lost > 0 {
		slog.Error(fmt.Sprintf("%s - lost %d of %d unflushed frames for %s", logPrefix, lost, len(frames), topic))
		return
	}
	slog.Debug(fmt.Sprintf("%s - kept %d unflushed frames for %s", logPrefix, len(frames), topic))
}

// storePending saves frame unless a subscriber arrived since the first fanout.
func (h *Hub) storePending(ctx context.Context, from *peer, topic, frame string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	if h.fanout(topic, frame, from) > 0 {
		return
	}
	if err := h.store.Save(ctx, topic, frame); err != nil {
		h.metrics.Dropped.WithLabelValues(DropStoreError).Inc()
		slog.Error(fmt.Sprintf("%s - failed to store pending frame for %s: %v", logPrefix, topic, err))
		return
	}
	h.metrics.Pending.Inc()
}

// fanout queues frame for topic's subscribers other than except and returns how many took it.
func (h *Hub) fanout(topic, frame string, except *peer) int {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.topics[topic]))
	for p := range h.topics[topic] {
		if p != except {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, p := range targets {
		if p.enqueue(frame) {
			n++
		}
	}
	h.metrics.Delivered.Add(float64(n))
	return n
}

type peer struct {
	hub     *Hub
	conn    *websocket.Conn
	remote  string
	limiter *rate.Limiter
	send    chan string
	done    chan struct{}
	once    sync.Once

	// topics is guarded by hub.mu.
	topics map[string]struct{}
}

func (p *peer) readLoop(ctx context.Context) {
	defer p.close()

	h := p.hub
	deadline := 2 * h.pingInterval
	p.conn.SetReadLimit(h.readLimit)
	p.conn.SetReadDeadline(time.Now().Add(deadline))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug(fmt.Sprintf("%s - peer %s read failed: %v", logPrefix, p.remote, err))
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(deadline))
		if kind != websocket.TextMessage {
			continue
		}
		h.handleFrame(ctx, p, string(data))
	}
}

func (p *peer) writeLoop() {
	h := p.hub
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer p.close()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				slog.Debug(fmt.Sprintf("%s - write to %s failed: %v", logPrefix, p.remote, err))
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// enqueue queues frame without blocking. A peer whose buffer is full is disconnected.
func (p *peer) enqueue(frame string) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.hub.metrics.Dropped.WithLabelValues(DropSlowConsumer).Inc()
		slog.Warn(fmt.Sprintf("%s - peer %s is not keeping up, disconnecting", logPrefix, p.remote))
		p.close()
		return false
	}
}

func (p *peer) enqueueWait(frame string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.send <- frame:
		return true
	case <-p.done:
		return false
	case <-timer.C:
		p.hub.metrics.Dropped.WithLabelValues(DropSlowConsumer).Inc()
		p.close()
		return false
	}
}

func (p *peer) close() { p.closeWith(0) }

// closeWith ends the connection, sending a close frame with code when it is non-zero.
func (p *peer) closeWith(code int) {
	p.once.Do(func() {
		close(p.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, "")
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.hub.writeTimeout))
		}
		p.conn.Close()
		p.hub.unregister(p)
		slog.Debug(fmt.Sprintf("%s - peer %s disconnected", logPrefix, p.remote))
	})
}
