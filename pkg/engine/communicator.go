package engine

import (
	"fmt"
	"log/slog"

	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const communicatorLogPrefix = "engine:communicator"

// Communicator owns the active and pending-disconnect registries and the transport, and
// turns JSON-RPC messages into frames on the wire.
type Communicator struct {
	transport         transport.Transport
	active            *session.Registry
	pendingDisconnect *session.Registry
}

// NewCommunicator creates a Communicator over t.
func NewCommunicator(t transport.Transport) *Communicator {
	return &Communicator{
		transport:         t,
		active:            session.NewRegistry(),
		pendingDisconnect: session.NewRegistry(),
	}
}

func (c *Communicator) AddOrUpdateSession(s session.Session) { c.active.AddOrUpdate(s) }

func (c *Communicator) Session(url wcuri.URI) (session.Session, bool) { return c.active.Find(url) }

// UpdateSession applies fn to the active session for url.
func (c *Communicator) UpdateSession(url wcuri.URI, fn func(*session.Session)) (session.Session, bool) {
	return c.active.Update(url, fn)
}

func (c *Communicator) RemoveSession(url wcuri.URI) bool { return c.active.Remove(url) }

// Sessions returns every active session, connected or not.
func (c *Communicator) Sessions() []session.Session { return c.active.All() }

func (c *Communicator) AddPendingDisconnect(s session.Session) { c.pendingDisconnect.AddOrUpdate(s) }

func (c *Communicator) IsPendingDisconnect(url wcuri.URI) bool {
	return c.pendingDisconnect.Contains(url)
}

func (c *Communicator) RemovePendingDisconnect(url wcuri.URI) bool {
	return c.pendingDisconnect.Remove(url)
}

// OpenSessions returns active sessions whose transport connection is live.
func (c *Communicator) OpenSessions() []session.Session {
	all := c.active.All()
	open := make([]session.Session, 0, len(all))
	for _, s := range all {
		if c.transport.IsConnected(s.URL) {
			open = append(open, s)
		}
	}
	return open
}

func (c *Communicator) Listen(url wcuri.URI, h transport.Handlers) { c.transport.Listen(url, h) }

func (c *Communicator) IsConnected(url wcuri.URI) bool { return c.transport.IsConnected(url) }

func (c *Communicator) Disconnect(url wcuri.URI) { c.transport.Disconnect(url) }

// Subscribe asks the bridge to deliver topic's frames on url's connection.
func (c *Communicator) Subscribe(topic string, url wcuri.URI) {
	frame, err := serializer.Subscription(topic)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to build subscription for %s: %v", communicatorLogPrefix, topic, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - subscribing to %s", communicatorLogPrefix, topic))
	c.transport.Send(url, frame)
}

// SendRequest encrypts req and publishes it on topic.
func (c *Communicator) SendRequest(req jsonrpc.Request, topic string) error {
	frame, err := serializer.SerializeRequest(req, topic)
	if err != nil {
		return fmt.Errorf("%s - failed to serialize %s: %w", communicatorLogPrefix, req.Method, err)
	}
	slog.Debug(fmt.Sprintf("%s - sending %s id=%s to %s", communicatorLogPrefix, req.Method, req.ID, topic))
	c.transport.Send(req.URL, frame)
	return nil
}

// SendResponse encrypts resp and publishes it on topic.
func (c *Communicator) SendResponse(resp jsonrpc.Response, topic string) error {
	frame, err := serializer.SerializeResponse(resp, topic)
	if err != nil {
		return fmt.Errorf("%s - failed to serialize response id=%s: %w", communicatorLogPrefix, resp.ID, err)
	}
	slog.Debug(fmt.Sprintf("%s - sending response id=%s to %s", communicatorLogPrefix, resp.ID, topic))
	c.transport.Send(resp.URL, frame)
	return nil
}
