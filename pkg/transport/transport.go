// Package transport keeps one long-lived, ordered text connection per session URI to the
// bridge and reports connect, disconnect and text events for it.
package transport

import (
	"strings"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

// Handlers receives the events of one URI's connection. Events for one URI are delivered
// sequentially: OnConnect before any OnText, OnDisconnect last. Callbacks run outside the
// transport's locks and may call back into the transport.
type Handlers struct {
	OnConnect    func(url wcuri.URI)
	OnDisconnect func(url wcuri.URI, err error)
	OnText       func(url wcuri.URI, text string)
}

func (h Handlers) connect(url wcuri.URI) {
	if h.OnConnect != nil {
		h.OnConnect(url)
	}
}

func (h Handlers) disconnect(url wcuri.URI, err error) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(url, err)
	}
}

func (h Handlers) text(url wcuri.URI, text string) {
	if h.OnText != nil {
		h.OnText(url, text)
	}
}

// Transport is the connection table used by the engine.
type Transport interface {
	// Listen opens the connection for url unless it is already open or opening. It never
	// blocks on the network; the outcome is reported through h.
	Listen(url wcuri.URI, h Handlers)
	// Send writes text on url's connection. When not connected it is a silent no-op.
	Send(url wcuri.URI, text string)
	IsConnected(url wcuri.URI) bool
	// Disconnect closes url's connection; OnDisconnect fires with a nil error.
	Disconnect(url wcuri.URI)
}

// Multi routes nats:// bridges to a NATS transport and everything else to a WebSocket one.
type Multi struct {
	WebSocket Transport
	NATS      Transport
}

// NewMulti creates a Multi with default WebSocket and NATS transports.
func NewMulti() *Multi {
	return &Multi{WebSocket: NewWebSocket(nil), NATS: NewNATS(nil)}
}

func (m *Multi) pick(url wcuri.URI) Transport {
	if IsNATSBridge(url.BridgeURL) {
		return m.NATS
	}
	return m.WebSocket
}

func (m *Multi) Listen(url wcuri.URI, h Handlers) { m.pick(url).Listen(url, h) }

func (m *Multi) Send(url wcuri.URI, text string) { m.pick(url).Send(url, text) }

func (m *Multi) IsConnected(url wcuri.URI) bool { return m.pick(url).IsConnected(url) }

func (m *Multi) Disconnect(url wcuri.URI) { m.pick(url).Disconnect(url) }

// IsNATSBridge reports whether bridgeURL points at a NATS server.
func IsNATSBridge(bridgeURL string) bool {
	lower := strings.ToLower(bridgeURL)
	return strings.HasPrefix(lower, "nats://") || strings.HasPrefix(lower, "tls://")
}
