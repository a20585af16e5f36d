// Package engine implements the per-URI connection lifecycle shared by the client and server
// roles: connect, handshake bookkeeping, reconnect on transient drops and explicit disconnect.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/walletconnect/pkg/semver"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const logPrefix = "engine:engine"

// DefaultReconnectDelay is the pause before re-listening after a transient drop.
const DefaultReconnectDelay = 2 * time.Second

// State is the lifecycle state of one URI.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakePending
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Hooks are the role-specific callbacks the engine drives.
type Hooks struct {
	// OnConnect runs when the transport opens for a URI that has no session yet.
	OnConnect func(url wcuri.URI)
	// OnText handles every inbound frame.
	OnText func(url wcuri.URI, text string)
	// SendDisconnectRequest sends the role's end-session message for s.
	SendDisconnectRequest func(s session.Session) error
	// OwnTopic is the topic this role receives on once s exists.
	OwnTopic func(s session.Session) string

	OnFailedConnect func(url wcuri.URI)
	OnConnected     func(s session.Session)
	OnDisconnected  func(s session.Session)
	// WillReconnect is optional and fires before a session is re-listened.
	WillReconnect func(s session.Session)
}

// ReconnectObserver is an optional delegate extension told before a dropped session is
// re-listened.
type ReconnectObserver interface {
	WillReconnect(s session.Session)
}

// Options configures an Engine. Nil or zero values use defaults.
type Options struct {
	ReconnectDelay time.Duration
}

// Engine is the lifecycle state machine. Roles embed it and supply Hooks.
type Engine struct {
	comm           *Communicator
	hooks          Hooks
	reconnectDelay time.Duration

	mu         sync.Mutex
	connecting map[wcuri.URI]struct{}
}

// New creates an Engine over t. Pass nil for opts to use defaults.
func New(t transport.Transport, hooks Hooks, opts *Options) *Engine {
	e := &Engine{
		comm:           NewCommunicator(t),
		hooks:          hooks,
		reconnectDelay: DefaultReconnectDelay,
		connecting:     make(map[wcuri.URI]struct{}),
	}
	if opts != nil && opts.ReconnectDelay > 0 {
		e.reconnectDelay = opts.ReconnectDelay
	}
	return e
}

// Communicator exposes the registries and send helpers to the role.
func (e *Engine) Communicator() *Communicator { return e.comm }

// Connect starts listening on url. It fails with wcerr.ErrDuplicateConnect when a session
// or an in-flight connect already exists for url.
func (e *Engine) Connect(url wcuri.URI) error {
	if !semver.IsSupported(url.Version) {
		return wcerr.ErrUnsupportedVersion.With(fmt.Sprintf("version %q is outside %s", url.Version, semver.SupportedRange))
	}

	e.mu.Lock()
	if _, ok := e.connecting[url]; ok || e.comm.active.Contains(url) {
		e.mu.Unlock()
		return wcerr.ErrDuplicateConnect.With(fmt.Sprintf("already connecting or connected to %s", url.Topic))
	}
	e.connecting[url] = struct{}{}
	e.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - connecting to topic %s via %s", logPrefix, url.Topic, url.BridgeURL))
	e.comm.Listen(url, e.handlers())
	return nil
}

// Reconnect re-adds s to the active registry and re-listens. s must carry WalletInfo.
func (e *Engine) Reconnect(s session.Session) error {
	if s.WalletInfo == nil {
		return wcerr.ErrMissingWalletInfo.With(fmt.Sprintf("cannot reconnect %s before handshake approval", s.URL.Topic))
	}
	e.comm.AddOrUpdateSession(s)
	if e.hooks.WillReconnect != nil {
		e.hooks.WillReconnect(s)
	}
	slog.Info(fmt.Sprintf("%s - reconnecting topic %s", logPrefix, s.URL.Topic))
	e.comm.Listen(s.URL, e.handlers())
	return nil
}

// Disconnect ends s: the role's end-session message is sent, s is marked pending-disconnect
// and the transport is closed. Teardown completes when the transport reports the close.
func (e *Engine) Disconnect(s session.Session) error {
	if !e.comm.IsConnected(s.URL) {
		return wcerr.ErrInactiveSession.With(fmt.Sprintf("no open connection for %s", s.URL.Topic))
	}
	if current, ok := e.comm.Session(s.URL); ok {
		s = current
	}
	if e.hooks.SendDisconnectRequest != nil {
		if err := e.hooks.SendDisconnectRequest(s); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to send end-session for %s: %v", logPrefix, s.URL.Topic, err))
		}
	}
	e.comm.AddPendingDisconnect(s)
	slog.Info(fmt.Sprintf("%s - disconnecting topic %s", logPrefix, s.URL.Topic))
	e.comm.Disconnect(s.URL)
	return nil
}

// CloseSession tears down the session for url after the peer ended it. Nothing is sent to
// the peer; the embedder is notified once the transport closes.
func (e *Engine) CloseSession(url wcuri.URI) error {
	s, ok := e.comm.Session(url)
	if !ok {
		return wcerr.ErrSessionNotFound.With(fmt.Sprintf("no session for %s", url.Topic))
	}
	if !e.comm.IsConnected(url) {
		e.comm.RemoveSession(url)
		e.comm.RemovePendingDisconnect(url)
		e.notifyDisconnected(s)
		return nil
	}
	e.comm.AddPendingDisconnect(s)
	slog.Info(fmt.Sprintf("%s - peer ended session %s", logPrefix, url.Topic))
	e.comm.Disconnect(url)
	return nil
}

// CompleteHandshake records an approved session and reports it connected.
func (e *Engine) CompleteHandshake(s session.Session) {
	e.comm.AddOrUpdateSession(s)
	e.mu.Lock()
	delete(e.connecting, s.URL)
	e.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - session %s established", logPrefix, s.URL.Topic))
	if e.hooks.OnConnected != nil {
		e.hooks.OnConnected(s)
	}
}

// FailConnect abandons an in-flight connect for url, reporting the failure once and closing
// the transport.
func (e *Engine) FailConnect(url wcuri.URI) {
	if e.takeConnecting(url) {
		slog.Warn(fmt.Sprintf("%s - connection to %s failed", logPrefix, url.Topic))
		if e.hooks.OnFailedConnect != nil {
			e.hooks.OnFailedConnect(url)
		}
	}
	e.comm.Disconnect(url)
}

// IsConnecting reports whether a connect for url is in flight.
func (e *Engine) IsConnecting(url wcuri.URI) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.connecting[url]
	return ok
}

// OpenSessions returns active sessions with a live connection.
func (e *Engine) OpenSessions() []session.Session { return e.comm.OpenSessions() }

// Session returns the active session for url.
func (e *Engine) Session(url wcuri.URI) (session.Session, bool) { return e.comm.Session(url) }

// State reports where url is in its lifecycle.
func (e *Engine) State(url wcuri.URI) State {
	live := e.comm.IsConnected(url)
	switch {
	case e.comm.IsPendingDisconnect(url):
		return StateDisconnecting
	case e.comm.active.Contains(url):
		if live {
			return StateConnected
		}
		return StateConnecting
	case e.IsConnecting(url):
		if live {
			return StateHandshakePending
		}
		return StateConnecting
	default:
		return StateDisconnected
	}
}

func (e *Engine) handlers() transport.Handlers {
	return transport.Handlers{
		OnConnect:    e.onConnect,
		OnDisconnect: e.onDisconnect,
		OnText:       e.onText,
	}
}

func (e *Engine) onConnect(url wcuri.URI) {
	if s, ok := e.comm.Session(url); ok {
		if e.hooks.OwnTopic != nil {
			e.comm.Subscribe(e.hooks.OwnTopic(s), url)
		}
		slog.Info(fmt.Sprintf("%s - session %s reconnected", logPrefix, url.Topic))
		if e.hooks.OnConnected != nil {
			e.hooks.OnConnected(s)
		}
		return
	}
	if !e.IsConnecting(url) {
		slog.Debug(fmt.Sprintf("%s - ignoring connect for %s: no session or handshake", logPrefix, url.Topic))
		return
	}
	if e.hooks.OnConnect != nil {
		e.hooks.OnConnect(url)
	}
}

func (e *Engine) onDisconnect(url wcuri.URI, err error) {
	s, ok := e.comm.Session(url)
	if !ok {
		if e.takeConnecting(url) {
			slog.Warn(fmt.Sprintf("%s - handshake for %s never completed: %v", logPrefix, url.Topic, err))
			if e.hooks.OnFailedConnect != nil {
				e.hooks.OnFailedConnect(url)
			}
		}
		e.comm.RemovePendingDisconnect(url)
		return
	}

	if e.comm.IsPendingDisconnect(url) {
		e.comm.RemoveSession(url)
		e.comm.RemovePendingDisconnect(url)
		e.notifyDisconnected(s)
		return
	}

	slog.Warn(fmt.Sprintf("%s - connection for %s dropped (%v), reconnecting in %s", logPrefix, url.Topic, err, e.reconnectDelay))
	time.AfterFunc(e.reconnectDelay, func() {
		current, ok := e.comm.Session(url)
		if !ok || e.comm.IsPendingDisconnect(url) {
			return
		}
		if err := e.Reconnect(current); err != nil {
			slog.Warn(fmt.Sprintf("%s - reconnect of %s failed: %v", logPrefix, url.Topic, err))
		}
	})
}

func (e *Engine) onText(url wcuri.URI, text string) {
	if e.hooks.OnText != nil {
		e.hooks.OnText(url, text)
	}
}

func (e *Engine) notifyDisconnected(s session.Session) {
	slog.Info(fmt.Sprintf("%s - session %s disconnected", logPrefix, s.URL.Topic))
	if e.hooks.OnDisconnected != nil {
		e.hooks.OnDisconnected(s)
	}
}

func (e *Engine) takeConnecting(url wcuri.URI) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.connecting[url]
	delete(e.connecting, url)
	return ok
}
