// Package transporttest provides an in-process bridge and transports for exercising the
// protocol roles without a network.
package transporttest

import (
	"errors"
	"sync"

	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

// ErrDropped is reported by OnDisconnect when a connection is dropped with Drop.
var ErrDropped = errors.New("transporttest: connection dropped")

type subscriber struct {
	t   *Transport
	url wcuri.URI
}

// Bridge is an in-memory pub/sub relay. Frames published on a topic nobody subscribes to
// are held and flushed to the first subscriber.
type Bridge struct {
	mu      sync.Mutex
	subs    map[string]map[subscriber]struct{}
	pending map[string][]string
}

func NewBridge() *Bridge {
	return &Bridge{
		subs:    make(map[string]map[subscriber]struct{}),
		pending: make(map[string][]string),
	}
}

// NewTransport returns a transport attached to b.
func (b *Bridge) NewTransport() *Transport {
	t := &Transport{
		bridge:  b,
		conns:   make(map[wcuri.URI]*conn),
		listens: make(map[wcuri.URI]int),
		queue:   make(chan func(), 4096),
	}
	go t.loop()
	return t
}

func (b *Bridge) subscribe(topic string, s subscriber) {
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[subscriber]struct{})
	}
	b.subs[topic][s] = struct{}{}
	held := b.pending[topic]
	delete(b.pending, topic)
	b.mu.Unlock()

	for _, frame := range held {
		s.t.deliver(s.url, frame)
	}
}

func (b *Bridge) publish(topic, frame string) {
	b.mu.Lock()
	targets := make([]subscriber, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	if len(targets) == 0 {
		b.pending[topic] = append(b.pending[topic], frame)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.t.deliver(s.url, frame)
	}
}

func (b *Bridge) unsubscribeAll(t *Transport, url wcuri.URI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := subscriber{t: t, url: url}
	for topic, set := range b.subs {
		delete(set, key)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Subscribers returns how many connections are subscribed to topic.
func (b *Bridge) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

type conn struct {
	open     bool
	handlers transport.Handlers
}

// Transport implements transport.Transport against a Bridge. Events are delivered in
// order on one goroutine per Transport.
type Transport struct {
	bridge *Bridge

	mu      sync.Mutex
	conns   map[wcuri.URI]*conn
	listens map[wcuri.URI]int
	sent    []string
	refuse  bool

	queue chan func()
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) loop() {
	for fn := range t.queue {
		fn()
	}
}

func (t *Transport) enqueue(fn func()) {
	t.queue <- fn
}

// Refuse makes subsequent Listen calls fail to connect.
func (t *Transport) Refuse(refuse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refuse = refuse
}

func (t *Transport) Listen(url wcuri.URI, h transport.Handlers) {
	t.mu.Lock()
	t.listens[url]++
	c, ok := t.conns[url]
	if !ok {
		c = &conn{}
		t.conns[url] = c
	}
	c.handlers = h
	if c.open {
		t.mu.Unlock()
		return
	}
	refuse := t.refuse
	if !refuse {
		c.open = true
	}
	t.mu.Unlock()

	if refuse {
		t.enqueue(func() {
			if h.OnDisconnect != nil {
				h.OnDisconnect(url, ErrDropped)
			}
		})
		return
	}
	t.enqueue(func() {
		if cur := t.handlersFor(url); cur.OnConnect != nil {
			cur.OnConnect(url)
		}
	})
}

func (t *Transport) Send(url wcuri.URI, text string) {
	t.mu.Lock()
	c, ok := t.conns[url]
	if !ok || !c.open {
		t.mu.Unlock()
		return
	}
	t.sent = append(t.sent, text)
	t.mu.Unlock()

	env, err := serializer.ParseEnvelope(text)
	if err != nil {
		return
	}
	switch env.Type {
	case serializer.TypeSub:
		t.bridge.subscribe(env.Topic, subscriber{t: t, url: url})
	case serializer.TypePub:
		t.bridge.publish(env.Topic, text)
	}
}

func (t *Transport) IsConnected(url wcuri.URI) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[url]
	return ok && c.open
}

func (t *Transport) Disconnect(url wcuri.URI) { t.close(url, nil) }

// Drop closes url's connection as if the network failed.
func (t *Transport) Drop(url wcuri.URI) { t.close(url, ErrDropped) }

func (t *Transport) close(url wcuri.URI, err error) {
	t.mu.Lock()
	c, ok := t.conns[url]
	if !ok || !c.open {
		t.mu.Unlock()
		return
	}
	c.open = false
	t.mu.Unlock()

	t.bridge.unsubscribeAll(t, url)
	t.enqueue(func() {
		if h := t.handlersFor(url); h.OnDisconnect != nil {
			h.OnDisconnect(url, err)
		}
	})
}

func (t *Transport) deliver(url wcuri.URI, frame string) {
	t.enqueue(func() {
		if !t.IsConnected(url) {
			return
		}
		if h := t.handlersFor(url); h.OnText != nil {
			h.OnText(url, frame)
		}
	})
}

func (t *Transport) handlersFor(url wcuri.URI) transport.Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[url]; ok {
		return c.handlers
	}
	return transport.Handlers{}
}

// Listens returns how many times Listen was called for url.
func (t *Transport) Listens(url wcuri.URI) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listens[url]
}

// Sent returns a copy of every frame written while connected.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// Inject delivers frame on url as if the bridge sent it.
func (t *Transport) Inject(url wcuri.URI, frame string) {
	t.deliver(url, frame)
}
