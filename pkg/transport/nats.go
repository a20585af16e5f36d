package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/walletconnect/pkg/commsutil"
	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const natsLogPrefix = "transport:nats"

// NATSOpts configures NATS. Nil or zero values use defaults.
type NATSOpts struct {
	Name    string
	Timeout time.Duration
}

type natsEntry struct {
	state    connState
	handlers Handlers
	nc       *comms.Conn
	subs     map[string]*comms.Subscription
	msgs     chan *comms.Msg
	closing  bool
}

// NATS is a Transport that speaks the bridge envelope protocol directly to a NATS server:
// a sub frame subscribes to the topic subject and a pub frame is published on it.
type NATS struct {
	name    string
	timeout time.Duration

	mu      sync.Mutex
	entries map[wcuri.URI]*natsEntry
}

// NewNATS creates a NATS transport. Pass nil for opts to use defaults.
func NewNATS(opts *NATSOpts) *NATS {
	n := &NATS{
		name:    "walletconnect-peer",
		timeout: 10 * time.Second,
		entries: make(map[wcuri.URI]*natsEntry),
	}
	if opts != nil {
		if opts.Name != "" {
			n.name = opts.Name
		}
		if opts.Timeout > 0 {
			n.timeout = opts.Timeout
		}
	}
	return n
}

// Listen connects to url's bridge unless already connected or connecting.
func (n *NATS) Listen(url wcuri.URI, h Handlers) {
	n.mu.Lock()
	e, ok := n.entries[url]
	if !ok {
		e = &natsEntry{}
		n.entries[url] = e
	}
	e.handlers = h
	if e.state != stateIdle {
		n.mu.Unlock()
		return
	}
	e.state = stateConnecting
	e.closing = false
	n.mu.Unlock()

	go n.run(url, e)
}

func (n *NATS) run(url wcuri.URI, e *natsEntry) {
	closed := make(chan struct{})
	var lastErr error
	var errMu sync.Mutex

	nc, err := comms.Connect(url.BridgeURL,
		comms.Name(n.name),
		comms.Timeout(n.timeout),
		comms.NoReconnect(),
		comms.NoEcho(),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}),
		comms.ClosedHandler(func(*comms.Conn) {
			close(closed)
		}),
	)

	n.mu.Lock()
	h := e.handlers
	if err != nil {
		e.state = stateIdle
		n.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - failed to connect to %s: %v", natsLogPrefix, url.BridgeURL, err))
		n.finish(url, e, h, fmt.Errorf("%s - connect %s: %w", natsLogPrefix, url.BridgeURL, err))
		return
	}
	if e.closing {
		e.state = stateIdle
		n.mu.Unlock()
		nc.Close()
		n.finish(url, e, h, nil)
		return
	}
	msgs := make(chan *comms.Msg, 256)
	e.nc = nc
	e.msgs = msgs
	e.subs = make(map[string]*comms.Subscription)
	e.state = stateOpen
	n.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - connected to %s for topic %s", natsLogPrefix, nc.ConnectedUrl(), url.Topic))
	h.connect(url)

	for done := false; !done; {
		select {
		case msg := <-msgs:
			n.mu.Lock()
			h = e.handlers
			n.mu.Unlock()
			h.text(url, string(msg.Data))
		case <-closed:
			done = true
		}
	}
	for drained := false; !drained; {
		select {
		case msg := <-msgs:
			h.text(url, string(msg.Data))
		default:
			drained = true
		}
	}

	n.mu.Lock()
	h = e.handlers
	closing := e.closing
	e.state = stateIdle
	e.nc = nil
	e.subs = nil
	e.msgs = nil
	n.mu.Unlock()

	errMu.Lock()
	dropErr := lastErr
	errMu.Unlock()
	if closing {
		dropErr = nil
	} else if dropErr == nil {
		dropErr = comms.ErrConnectionClosed
	}
	n.finish(url, e, h, dropErr)
}

// finish reports the disconnect and forgets e unless OnDisconnect listened again.
func (n *NATS) finish(url wcuri.URI, e *natsEntry, h Handlers, err error) {
	h.disconnect(url, err)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.entries[url] == e && e.state == stateIdle {
		delete(n.entries, url)
	}
}

// Send interprets text as a bridge envelope: sub frames subscribe, pub frames publish.
func (n *NATS) Send(url wcuri.URI, text string) {
	env, err := serializer.ParseEnvelope(text)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping unparseable frame for %s: %v", natsLogPrefix, url.Topic, err))
		return
	}

	n.mu.Lock()
	e, ok := n.entries[url]
	if !ok || e.state != stateOpen {
		n.mu.Unlock()
		slog.Debug(fmt.Sprintf("%s - dropping frame for %s: not connected", natsLogPrefix, url.Topic))
		return
	}
	nc := e.nc
	subject := commsutil.BuildTopicSubject(env.Topic)

	if env.Type == serializer.TypePub {
		n.mu.Unlock()
		if err := nc.Publish(subject, []byte(text)); err != nil {
			slog.Warn(fmt.Sprintf("%s - publish %s failed: %v", natsLogPrefix, subject, err))
		}
		return
	}

	if _, exists := e.subs[subject]; exists {
		n.mu.Unlock()
		return
	}
	sub, err := nc.ChanSubscribe(subject, e.msgs)
	if err != nil {
		n.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - subscribe %s failed: %v", natsLogPrefix, subject, err))
		return
	}
	e.subs[subject] = sub
	n.mu.Unlock()

	// Make the subscription visible to the server before any peer publishes on it.
	if err := nc.Flush(); err != nil {
		slog.Debug(fmt.Sprintf("%s - flush after subscribe failed: %v", natsLogPrefix, err))
	}
}

func (n *NATS) IsConnected(url wcuri.URI) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries[url]
	return ok && e.state == stateOpen
}

// Disconnect closes url's connection; OnDisconnect fires from the connection's goroutine.
func (n *NATS) Disconnect(url wcuri.URI) {
	n.mu.Lock()
	e, ok := n.entries[url]
	if !ok || e.state == stateIdle {
		n.mu.Unlock()
		return
	}
	e.closing = true
	nc := e.nc
	n.mu.Unlock()

	if nc != nil {
		if err := nc.FlushTimeout(time.Second); err != nil {
			slog.Debug(fmt.Sprintf("%s - flush before close failed: %v", natsLogPrefix, err))
		}
		nc.Close()
	}
}
