// Package client implements the dApp role: it opens the handshake on a connection URI and
// issues JSON-RPC calls to the approving wallet.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/walletconnect/pkg/engine"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const logPrefix = "client:client"

// Delegate receives the permanent outcomes of the client's sessions. Each is reported once.
type Delegate interface {
	DidFailToConnect(url wcuri.URI)
	DidConnect(s session.Session)
	DidDisconnect(s session.Session)
}

// UpdateObserver is an optional Delegate extension told about wallet-pushed updates.
type UpdateObserver interface {
	DidUpdate(s session.Session)
}

// Client is the dApp role. The delegate is not owned by the client.
type Client struct {
	engine      *engine.Engine
	delegate    Delegate
	dAppInfo    session.DAppInfo
	completions *engine.Completions

	// handshakes maps each URI with an unanswered handshake to that request's id.
	mu         sync.Mutex
	handshakes map[wcuri.URI]jsonrpc.ID
}

// New creates a Client. An empty dAppInfo.PeerID is filled with a fresh id. Pass nil for
// opts to use the engine defaults.
func New(delegate Delegate, dAppInfo session.DAppInfo, t transport.Transport, opts *engine.Options) *Client {
	if dAppInfo.PeerID == "" {
		dAppInfo.PeerID = session.NewPeerID()
	}
	c := &Client{
		delegate:    delegate,
		dAppInfo:    dAppInfo,
		completions: engine.NewCompletions(),
		handshakes:  make(map[wcuri.URI]jsonrpc.ID),
	}
	c.engine = engine.New(t, engine.Hooks{
		OnConnect:             c.onConnect,
		OnText:                c.onText,
		SendDisconnectRequest: c.sendDisconnectRequest,
		OwnTopic:              func(s session.Session) string { return s.DAppInfo.PeerID },
		OnFailedConnect:       c.onFailedConnect,
		OnConnected:           delegate.DidConnect,
		OnDisconnected:        delegate.DidDisconnect,
		WillReconnect:         c.willReconnect,
	}, opts)
	return c
}

// DAppInfo returns the info sent in every handshake.
func (c *Client) DAppInfo() session.DAppInfo { return c.dAppInfo }

// Connect starts a handshake on url.
func (c *Client) Connect(url wcuri.URI) error { return c.engine.Connect(url) }

// Disconnect ends s and tells the wallet.
func (c *Client) Disconnect(s session.Session) error { return c.engine.Disconnect(s) }

// Reconnect restores a previously approved session, for example after a restart.
func (c *Client) Reconnect(s session.Session) error { return c.engine.Reconnect(s) }

// OpenSessions returns sessions with a live connection.
func (c *Client) OpenSessions() []session.Session { return c.engine.OpenSessions() }

// Session returns the active session for url.
func (c *Client) Session(url wcuri.URI) (session.Session, bool) { return c.engine.Session(url) }

// State reports url's lifecycle state.
func (c *Client) State(url wcuri.URI) engine.State { return c.engine.State(url) }

// Send transmits req to the wallet of req.URL's session. completion, if not nil, fires at
// most once with the matching response.
func (c *Client) Send(req jsonrpc.Request, completion engine.Completion) error {
	s, ok := c.engine.Session(req.URL)
	if !ok {
		return wcerr.ErrSessionNotFound.With(fmt.Sprintf("no session for %s", req.URL.Topic))
	}
	if s.WalletInfo == nil {
		return wcerr.ErrMissingWalletInfo.With(fmt.Sprintf("session %s is not approved", req.URL.Topic))
	}
	c.completions.Add(req.ID, completion)
	if err := c.engine.Communicator().SendRequest(req, s.WalletInfo.PeerID); err != nil {
		c.completions.Remove(req.ID)
		return err
	}
	return nil
}

func (c *Client) onConnect(url wcuri.URI) {
	comm := c.engine.Communicator()
	comm.Subscribe(c.dAppInfo.PeerID, url)

	params, err := jsonrpc.NewPositional(c.dAppInfo)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode dApp info: %v", logPrefix, err))
		c.engine.FailConnect(url)
		return
	}
	req := jsonrpc.NewRequest(url, session.MethodSessionRequest, params)
	c.trackHandshake(url, req.ID)
	c.completions.Add(req.ID, func(resp jsonrpc.Response) {
		c.forgetHandshake(url, req.ID)
		c.handleHandshakeResponse(url, resp)
	})
	if err := comm.SendRequest(req, url.Topic); err != nil {
		c.dropHandshake(url)
		slog.Error(fmt.Sprintf("%s - failed to send handshake: %v", logPrefix, err))
		c.engine.FailConnect(url)
		return
	}
	slog.Info(fmt.Sprintf("%s - handshake id=%s sent on %s", logPrefix, req.ID, url.Topic))
}

// trackHandshake records id as url's outstanding handshake, discarding an older one.
func (c *Client) trackHandshake(url wcuri.URI, id jsonrpc.ID) {
	c.mu.Lock()
	old, ok := c.handshakes[url]
	c.handshakes[url] = id
	c.mu.Unlock()
	if ok {
		c.completions.Remove(old)
	}
}

func (c *Client) forgetHandshake(url wcuri.URI, id jsonrpc.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.handshakes[url]; ok && cur.Key() == id.Key() {
		delete(c.handshakes, url)
	}
}

// dropHandshake removes url's outstanding handshake completion, so a late answer finds
// nothing.
func (c *Client) dropHandshake(url wcuri.URI) {
	c.mu.Lock()
	id, ok := c.handshakes[url]
	delete(c.handshakes, url)
	c.mu.Unlock()
	if ok {
		c.completions.Remove(id)
	}
}

func (c *Client) onFailedConnect(url wcuri.URI) {
	c.dropHandshake(url)
	c.delegate.DidFailToConnect(url)
}

func (c *Client) handleHandshakeResponse(url wcuri.URI, resp jsonrpc.Response) {
	var info session.WalletInfo
	if err := resp.DecodeResult(&info); err != nil {
		slog.Warn(fmt.Sprintf("%s - handshake on %s failed: %v", logPrefix, url.Topic, err))
		c.engine.FailConnect(url)
		return
	}
	if !info.Approved {
		slog.Info(fmt.Sprintf("%s - wallet rejected handshake on %s", logPrefix, url.Topic))
		c.engine.FailConnect(url)
		return
	}
	c.engine.CompleteHandshake(session.Session{URL: url, DAppInfo: c.dAppInfo, WalletInfo: &info})
}

func (c *Client) onText(url wcuri.URI, text string) {
	msg, err := serializer.Deserialize(text, url)
	if err != nil {
		kind, _ := wcerr.KindOf(err)
		slog.Warn(fmt.Sprintf("%s - dropping %s frame on %s: %v", logPrefix, kind, url.Topic, err))
		return
	}

	if msg.IsResponse() {
		fn, ok := c.completions.Take(msg.Response.ID)
		if !ok {
			slog.Debug(fmt.Sprintf("%s - no completion for response id=%s", logPrefix, msg.Response.ID))
			return
		}
		fn(*msg.Response)
		return
	}
	c.handleRequest(*msg.Request)
}

func (c *Client) handleRequest(req jsonrpc.Request) {
	if req.Method != session.MethodSessionUpdate {
		slog.Debug(fmt.Sprintf("%s - ignoring %s from wallet", logPrefix, req.Method))
		return
	}
	var update session.Update
	if err := req.Params.At(0, &update); err != nil {
		slog.Warn(fmt.Sprintf("%s - invalid session update on %s: %v", logPrefix, req.URL.Topic, err))
		return
	}

	if !update.Approved {
		if err := c.engine.CloseSession(req.URL); err != nil && !errors.Is(err, wcerr.ErrSessionNotFound) {
			slog.Warn(fmt.Sprintf("%s - failed to close %s: %v", logPrefix, req.URL.Topic, err))
		}
		return
	}

	updated, ok := c.engine.Communicator().UpdateSession(req.URL, func(s *session.Session) {
		if s.WalletInfo != nil {
			s.WalletInfo.Merge(update)
		}
	})
	if !ok {
		return
	}
	if obs, ok := c.delegate.(UpdateObserver); ok {
		obs.DidUpdate(updated)
	}
}

func (c *Client) sendDisconnectRequest(s session.Session) error {
	if s.WalletInfo == nil {
		return wcerr.ErrMissingWalletInfo.With(fmt.Sprintf("session %s has no wallet to notify", s.URL.Topic))
	}
	params, err := jsonrpc.NewPositional(session.Update{Approved: false})
	if err != nil {
		return err
	}
	req := jsonrpc.NewRequest(s.URL, session.MethodSessionUpdate, params)
	return c.engine.Communicator().SendRequest(req, s.WalletInfo.PeerID)
}

func (c *Client) willReconnect(s session.Session) {
	if obs, ok := c.delegate.(engine.ReconnectObserver); ok {
		obs.WillReconnect(s)
	}
}
