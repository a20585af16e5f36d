// Package server implements the wallet role: it answers handshakes and dispatches inbound
// requests through an ordered handler chain.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/walletconnect/pkg/dispatcher"
	"github.com/morezero/walletconnect/pkg/engine"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const logPrefix = "server:server"

// Delegate is told about handshakes and the permanent outcomes of the server's sessions.
type Delegate interface {
	DidFailToConnect(url wcuri.URI)
	// ShouldStart offers a candidate session (WalletInfo nil) for approval. The embedder
	// calls completion once, at any time, with WalletInfo.Approved set to its decision.
	ShouldStart(s session.Session, requestID jsonrpc.ID, completion func(session.WalletInfo))
	DidConnect(s session.Session)
	DidDisconnect(s session.Session)
	DidUpdate(s session.Session)
}

// Server is the wallet role. The delegate is not owned by the server.
type Server struct {
	engine   *engine.Engine
	delegate Delegate
	chain    *dispatcher.Chain
}

// New creates a Server with the handshake and session-update handlers installed. Pass nil
// for opts to use the engine defaults.
func New(delegate Delegate, t transport.Transport, opts *engine.Options) *Server {
	s := &Server{delegate: delegate}
	s.chain = dispatcher.NewChain(
		dispatcher.NewMethodHandler(session.MethodSessionRequest, s.handleHandshake),
		dispatcher.NewMethodHandler(session.MethodSessionUpdate, s.handleSessionUpdate),
	)
	s.engine = engine.New(t, engine.Hooks{
		OnConnect:             s.onConnect,
		OnText:                s.onText,
		SendDisconnectRequest: s.sendDisconnectRequest,
		OwnTopic:              ownTopic,
		OnFailedConnect:       delegate.DidFailToConnect,
		OnConnected:           delegate.DidConnect,
		OnDisconnected:        delegate.DidDisconnect,
		WillReconnect:         s.willReconnect,
	}, opts)
	return s
}

// Register appends h to the handler chain. Built-in handlers run first.
func (s *Server) Register(h dispatcher.Handler) { s.chain.Register(h) }

// Unregister removes h and reports whether it was registered.
func (s *Server) Unregister(h dispatcher.Handler) bool { return s.chain.Unregister(h) }

// Connect starts listening on a URI received from a dApp.
func (s *Server) Connect(url wcuri.URI) error { return s.engine.Connect(url) }

// Disconnect ends sess and tells the dApp.
func (s *Server) Disconnect(sess session.Session) error { return s.engine.Disconnect(sess) }

// Reconnect restores a previously approved session.
func (s *Server) Reconnect(sess session.Session) error { return s.engine.Reconnect(sess) }

// OpenSessions returns sessions with a live connection.
func (s *Server) OpenSessions() []session.Session { return s.engine.OpenSessions() }

// Session returns the active session for url.
func (s *Server) Session(url wcuri.URI) (session.Session, bool) { return s.engine.Session(url) }

// State reports url's lifecycle state.
func (s *Server) State(url wcuri.URI) engine.State { return s.engine.State(url) }

// Send answers a request on resp.URL's session.
func (s *Server) Send(resp jsonrpc.Response) error {
	sess, ok := s.engine.Session(resp.URL)
	if !ok {
		return wcerr.ErrSessionNotFound.With(fmt.Sprintf("no session for %s", resp.URL.Topic))
	}
	return s.engine.Communicator().SendResponse(resp, sess.DAppInfo.PeerID)
}

// UpdateSession pushes new wallet state to the dApp. An unapproved info ends the session.
func (s *Server) UpdateSession(sess session.Session, info session.WalletInfo) error {
	current, ok := s.engine.Session(sess.URL)
	if !ok {
		return wcerr.ErrSessionNotFound.With(fmt.Sprintf("no session for %s", sess.URL.Topic))
	}
	if !info.Approved {
		return s.engine.Disconnect(current)
	}

	chainID := info.ChainID
	params, err := jsonrpc.NewPositional(session.Update{Approved: true, Accounts: info.Accounts, ChainID: &chainID})
	if err != nil {
		return fmt.Errorf("%s - failed to encode update: %w", logPrefix, err)
	}
	updated, ok := s.engine.Communicator().UpdateSession(sess.URL, func(stored *session.Session) {
		if stored.WalletInfo == nil {
			stored.WalletInfo = &session.WalletInfo{PeerID: info.PeerID, PeerMeta: info.PeerMeta}
		}
		stored.WalletInfo.Merge(session.Update{Approved: true, Accounts: info.Accounts, ChainID: &chainID})
	})
	if !ok {
		return wcerr.ErrSessionNotFound.With(fmt.Sprintf("session %s ended during update", sess.URL.Topic))
	}
	req := jsonrpc.NewRequest(sess.URL, session.MethodSessionUpdate, params)
	return s.engine.Communicator().SendRequest(req, updated.DAppInfo.PeerID)
}

func ownTopic(sess session.Session) string {
	if sess.WalletInfo == nil {
		return ""
	}
	return sess.WalletInfo.PeerID
}

func (s *Server) onConnect(url wcuri.URI) {
	s.engine.Communicator().Subscribe(url.Topic, url)
}

func (s *Server) onText(url wcuri.URI, text string) {
	plain, err := serializer.Open(text, url)
	if err != nil {
		kind, _ := wcerr.KindOf(err)
		slog.Warn(fmt.Sprintf("%s - dropping %s frame on %s: %v", logPrefix, kind, url.Topic, err))
		return
	}

	msg, err := jsonrpc.Decode(plain, url)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - invalid JSON-RPC on %s: %v", logPrefix, url.Topic, err))
		resp := jsonrpc.NewErrorResponse(url, jsonrpc.PeekID(plain),
			jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "Invalid Request"))
		s.replyToPeer(resp)
		return
	}

	if msg.IsResponse() {
		if msg.Response.IsError() {
			slog.Warn(fmt.Sprintf("%s - dApp answered id=%s with error: %v", logPrefix, msg.Response.ID, msg.Response.Error))
		}
		return
	}

	req := *msg.Request
	if !s.chain.Dispatch(req) {
		s.replyToPeer(dispatcher.MethodNotFound(req))
	}
}

// replyToPeer sends resp to the dApp of an established session. Without one the dApp's topic
// is unknown and the reply is dropped.
func (s *Server) replyToPeer(resp jsonrpc.Response) {
	sess, ok := s.engine.Session(resp.URL)
	if !ok {
		slog.Debug(fmt.Sprintf("%s - no session on %s to answer id=%s", logPrefix, resp.URL.Topic, resp.ID))
		return
	}
	if err := s.engine.Communicator().SendResponse(resp, sess.DAppInfo.PeerID); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to answer id=%s: %v", logPrefix, resp.ID, err))
	}
}

func (s *Server) handleHandshake(req jsonrpc.Request) {
	var info session.DAppInfo
	if err := req.Params.At(0, &info); err != nil || info.PeerID == "" {
		slog.Warn(fmt.Sprintf("%s - handshake on %s without usable dApp info: %v", logPrefix, req.URL.Topic, err))
		return
	}
	if _, ok := s.engine.Session(req.URL); ok {
		slog.Debug(fmt.Sprintf("%s - ignoring repeated handshake on %s", logPrefix, req.URL.Topic))
		return
	}

	candidate := session.Session{URL: req.URL, DAppInfo: info}
	var once sync.Once
	s.delegate.ShouldStart(candidate.Clone(), req.ID, func(w session.WalletInfo) {
		once.Do(func() { s.answerHandshake(req, candidate, w) })
	})
}

func (s *Server) answerHandshake(req jsonrpc.Request, candidate session.Session, w session.WalletInfo) {
	url := req.URL
	if !s.engine.IsConnecting(url) {
		slog.Warn(fmt.Sprintf("%s - handshake on %s is no longer pending", logPrefix, url.Topic))
		return
	}
	if w.Approved && w.PeerID == "" {
		w.PeerID = session.NewPeerID()
	}

	resp, err := jsonrpc.NewResultResponse(url, req.ID, w)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode wallet info: %v", logPrefix, err))
		s.engine.FailConnect(url)
		return
	}
	comm := s.engine.Communicator()
	// The dApp may call as soon as it sees the approval, so listen first.
	if w.Approved {
		comm.Subscribe(w.PeerID, url)
	}
	if err := comm.SendResponse(resp, candidate.DAppInfo.PeerID); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to answer handshake on %s: %v", logPrefix, url.Topic, err))
		s.engine.FailConnect(url)
		return
	}

	if !w.Approved {
		slog.Info(fmt.Sprintf("%s - handshake on %s rejected", logPrefix, url.Topic))
		s.engine.FailConnect(url)
		return
	}
	candidate.WalletInfo = &w
	s.engine.CompleteHandshake(candidate)
}

func (s *Server) handleSessionUpdate(req jsonrpc.Request) {
	var update session.Update
	if err := req.Params.At(0, &update); err != nil {
		s.replyToPeer(dispatcher.InvalidParams(req, err.Error()))
		return
	}

	if !update.Approved {
		if err := s.engine.CloseSession(req.URL); err != nil && !errors.Is(err, wcerr.ErrSessionNotFound) {
			slog.Warn(fmt.Sprintf("%s - failed to close %s: %v", logPrefix, req.URL.Topic, err))
		}
		return
	}

	updated, ok := s.engine.Communicator().UpdateSession(req.URL, func(sess *session.Session) {
		if sess.WalletInfo != nil {
			sess.WalletInfo.Merge(update)
		}
	})
	if !ok {
		slog.Debug(fmt.Sprintf("%s - update for unknown session %s", logPrefix, req.URL.Topic))
		return
	}
	s.delegate.DidUpdate(updated)
}

func (s *Server) sendDisconnectRequest(sess session.Session) error {
	params, err := jsonrpc.NewPositional(session.Update{Approved: false})
	if err != nil {
		return err
	}
	req := jsonrpc.NewRequest(sess.URL, session.MethodSessionUpdate, params)
	return s.engine.Communicator().SendRequest(req, sess.DAppInfo.PeerID)
}

func (s *Server) willReconnect(sess session.Session) {
	if obs, ok := s.delegate.(engine.ReconnectObserver); ok {
		obs.WillReconnect(sess)
	}
}
