package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/walletconnect/pkg/engine"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/serializer"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/transport"
	"github.com/morezero/walletconnect/pkg/transport/transporttest"
	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const clientTestPrefix = "client:client_test"

type delegateRecorder struct {
	mu           sync.Mutex
	failed       int
	connected    []session.Session
	disconnected int
	updates      []session.Session
	reconnects   int
}

func (d *delegateRecorder) DidFailToConnect(wcuri.URI) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed++
}

func (d *delegateRecorder) DidConnect(s session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, s)
}

func (d *delegateRecorder) DidDisconnect(session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected++
}

func (d *delegateRecorder) DidUpdate(s session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, s)
}

func (d *delegateRecorder) WillReconnect(session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconnects++
}

func (d *delegateRecorder) counts() (failed, connected, disconnected, updates int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed, len(d.connected), d.disconnected, len(d.updates)
}

// fakeWallet speaks the wallet side of the protocol by hand.
type fakeWallet struct {
	transport *transporttest.Transport
	url       wcuri.URI
	peerID    string
	msgs      chan jsonrpc.Message
}

func newFakeWallet(t *testing.T, bridge *transporttest.Bridge, url wcuri.URI) *fakeWallet {
	t.Helper()
	w := &fakeWallet{
		transport: bridge.NewTransport(),
		url:       url,
		peerID:    "wallet-peer",
		msgs:      make(chan jsonrpc.Message, 64),
	}
	ready := make(chan struct{})
	w.transport.Listen(url, transport.Handlers{
		OnConnect: func(u wcuri.URI) {
			for _, topic := range []string{u.Topic, w.peerID} {
				frame, _ := serializer.Subscription(topic)
				w.transport.Send(u, frame)
			}
			close(ready)
		},
		OnText: func(u wcuri.URI, text string) {
			msg, err := serializer.Deserialize(text, u)
			if err == nil {
				w.msgs <- msg
			}
		},
	})
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - wallet never connected", clientTestPrefix)
	}
	return w
}

func (w *fakeWallet) next(t *testing.T) jsonrpc.Message {
	t.Helper()
	select {
	case msg := <-w.msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - wallet received nothing", clientTestPrefix)
		return jsonrpc.Message{}
	}
}

func (w *fakeWallet) nextRequest(t *testing.T, method string) jsonrpc.Request {
	t.Helper()
	msg := w.next(t)
	if !msg.IsRequest() || msg.Request.Method != method {
		t.Fatalf("%s - wallet got %+v, want %s request", clientTestPrefix, msg, method)
	}
	return *msg.Request
}

func (w *fakeWallet) respond(t *testing.T, resp jsonrpc.Response, topic string) {
	t.Helper()
	frame, err := serializer.SerializeResponse(resp, topic)
	if err != nil {
		t.Fatalf("%s - SerializeResponse failed: %v", clientTestPrefix, err)
	}
	w.transport.Send(w.url, frame)
}

func (w *fakeWallet) push(t *testing.T, update session.Update, topic string) {
	t.Helper()
	params, err := jsonrpc.NewPositional(update)
	if err != nil {
		t.Fatalf("%s - NewPositional failed: %v", clientTestPrefix, err)
	}
	frame, err := serializer.SerializeRequest(jsonrpc.NewRequest(w.url, session.MethodSessionUpdate, params), topic)
	if err != nil {
		t.Fatalf("%s - SerializeRequest failed: %v", clientTestPrefix, err)
	}
	w.transport.Send(w.url, frame)
}

func (w *fakeWallet) walletInfo(approved bool) session.WalletInfo {
	return session.WalletInfo{Approved: approved, Accounts: []string{"0xabc"}, ChainID: 1, PeerID: w.peerID}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s - timed out waiting for %s", clientTestPrefix, what)
}

type fixture struct {
	client   *Client
	delegate *delegateRecorder
	wallet   *fakeWallet
	url      wcuri.URI
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	url, err := wcuri.New("https://bridge.example.org")
	if err != nil {
		t.Fatalf("%s - wcuri.New failed: %v", clientTestPrefix, err)
	}
	bridge := transporttest.NewBridge()
	d := &delegateRecorder{}
	c := New(d, session.DAppInfo{PeerMeta: session.PeerMeta{Name: "Test dApp"}}, bridge.NewTransport(),
		&engine.Options{ReconnectDelay: 10 * time.Millisecond})
	return &fixture{client: c, delegate: d, wallet: newFakeWallet(t, bridge, url), url: url}
}

// connect runs the handshake and lets the wallet answer with approved.
func (f *fixture) connect(t *testing.T, approved bool) jsonrpc.Request {
	t.Helper()
	if err := f.client.Connect(f.url); err != nil {
		t.Fatalf("%s - Connect failed: %v", clientTestPrefix, err)
	}
	req := f.wallet.nextRequest(t, session.MethodSessionRequest)
	resp, err := jsonrpc.NewResultResponse(f.url, req.ID, f.wallet.walletInfo(approved))
	if err != nil {
		t.Fatalf("%s - NewResultResponse failed: %v", clientTestPrefix, err)
	}
	f.wallet.respond(t, resp, f.client.DAppInfo().PeerID)
	return req
}

func (f *fixture) established(t *testing.T) session.Session {
	t.Helper()
	f.connect(t, true)
	eventually(t, "connected", func() bool { _, n, _, _ := f.delegate.counts(); return n == 1 })
	s, ok := f.client.Session(f.url)
	if !ok {
		t.Fatalf("%s - session missing after handshake", clientTestPrefix)
	}
	return s
}

func TestNew_GeneratesPeerID(t *testing.T) {
	c := New(&delegateRecorder{}, session.DAppInfo{}, transporttest.NewBridge().NewTransport(), nil)
	if c.DAppInfo().PeerID == "" {
		t.Errorf("%s - peer id not generated", clientTestPrefix)
	}
	kept := New(&delegateRecorder{}, session.DAppInfo{PeerID: "fixed"}, transporttest.NewBridge().NewTransport(), nil)
	if kept.DAppInfo().PeerID != "fixed" {
		t.Errorf("%s - explicit peer id replaced: %q", clientTestPrefix, kept.DAppInfo().PeerID)
	}
}

func TestHandshake_Approved(t *testing.T) {
	f := newFixture(t)
	req := f.connect(t, true)

	var info session.DAppInfo
	if err := req.Params.At(0, &info); err != nil {
		t.Fatalf("%s - handshake params: %v", clientTestPrefix, err)
	}
	if info.PeerID != f.client.DAppInfo().PeerID || info.PeerMeta.Name != "Test dApp" {
		t.Errorf("%s - handshake carried %+v", clientTestPrefix, info)
	}

	eventually(t, "connected", func() bool { _, n, _, _ := f.delegate.counts(); return n == 1 })
	f.delegate.mu.Lock()
	s := f.delegate.connected[0]
	f.delegate.mu.Unlock()
	if s.WalletInfo == nil || s.WalletInfo.PeerID != f.wallet.peerID || s.WalletInfo.Accounts[0] != "0xabc" {
		t.Errorf("%s - session wallet info %+v", clientTestPrefix, s.WalletInfo)
	}
	if got := f.client.State(f.url); got != engine.StateConnected {
		t.Errorf("%s - state = %s, want connected", clientTestPrefix, got)
	}
	if len(f.client.OpenSessions()) != 1 {
		t.Errorf("%s - open sessions = %d, want 1", clientTestPrefix, len(f.client.OpenSessions()))
	}
	if err := f.client.Connect(f.url); !errors.Is(err, wcerr.ErrDuplicateConnect) {
		t.Errorf("%s - reconnect error = %v, want ErrDuplicateConnect", clientTestPrefix, err)
	}
}

func TestHandshake_Rejected(t *testing.T) {
	f := newFixture(t)
	f.connect(t, false)

	eventually(t, "failure report", func() bool { n, _, _, _ := f.delegate.counts(); return n == 1 })
	time.Sleep(30 * time.Millisecond)
	failed, connected, disconnected, _ := f.delegate.counts()
	if failed != 1 || connected != 0 || disconnected != 0 {
		t.Errorf("%s - failed=%d connected=%d disconnected=%d", clientTestPrefix, failed, connected, disconnected)
	}
	if _, ok := f.client.Session(f.url); ok {
		t.Errorf("%s - rejected handshake left a session", clientTestPrefix)
	}
	if got := f.client.State(f.url); got != engine.StateDisconnected {
		t.Errorf("%s - state = %s, want disconnected", clientTestPrefix, got)
	}
}

func TestHandshake_ErrorResponse(t *testing.T) {
	f := newFixture(t)
	if err := f.client.Connect(f.url); err != nil {
		t.Fatalf("%s - Connect failed: %v", clientTestPrefix, err)
	}
	req := f.wallet.nextRequest(t, session.MethodSessionRequest)
	f.wallet.respond(t, jsonrpc.NewErrorResponse(f.url, req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "no")), f.client.DAppInfo().PeerID)

	eventually(t, "failure report", func() bool { n, _, _, _ := f.delegate.counts(); return n == 1 })
}

func TestSend_RequiresSession(t *testing.T) {
	f := newFixture(t)
	err := f.client.PersonalSign(f.url, "hello", "0xabc", nil)
	if !errors.Is(err, wcerr.ErrSessionNotFound) {
		t.Errorf("%s - error = %v, want ErrSessionNotFound", clientTestPrefix, err)
	}
	if err := f.client.EthSignTypedData(f.url, "0xabc", "{not json", nil); err == nil {
		t.Errorf("%s - expected invalid typed data error", clientTestPrefix)
	}
}

func TestCalls_ParamOrder(t *testing.T) {
	f := newFixture(t)
	f.established(t)

	tx := Transaction{From: "0xabc", To: "0xdef", Value: "0x1"}
	tests := []struct {
		name   string
		method string
		call   func() error
		first  string
	}{
		{"personal_sign", MethodPersonalSign, func() error { return f.client.PersonalSign(f.url, "hello", "0xabc", nil) }, `"hello"`},
		{"eth_sign", MethodEthSign, func() error { return f.client.EthSign(f.url, "0xabc", "hello", nil) }, `"0xabc"`},
		{"eth_signTypedData", MethodEthSignTypedData, func() error { return f.client.EthSignTypedData(f.url, "0xabc", `{"a":1}`, nil) }, `"0xabc"`},
		{"eth_sendTransaction", MethodEthSendTransaction, func() error { return f.client.EthSendTransaction(f.url, tx, nil) }, `{"from":"0xabc","to":"0xdef","value":"0x1"}`},
		{"eth_signTransaction", MethodEthSignTransaction, func() error { return f.client.EthSignTransaction(f.url, tx, nil) }, `{"from":"0xabc","to":"0xdef","value":"0x1"}`},
		{"eth_sendRawTransaction", MethodEthSendRawTransaction, func() error { return f.client.EthSendRawTransaction(f.url, "0xf86b", nil) }, `"0xf86b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("%s - call failed: %v", clientTestPrefix, err)
			}
			req := f.wallet.nextRequest(t, tt.method)
			var raw json.RawMessage
			if err := req.Params.At(0, &raw); err != nil {
				t.Fatalf("%s - params: %v", clientTestPrefix, err)
			}
			if string(raw) != tt.first {
				t.Errorf("%s - first param = %s, want %s", clientTestPrefix, raw, tt.first)
			}
		})
	}
}

func TestCompletion_FiresOnce(t *testing.T) {
	f := newFixture(t)
	s := f.established(t)

	var mu sync.Mutex
	var results []string
	err := f.client.PersonalSign(f.url, "hello", "0xabc", func(resp jsonrpc.Response) {
		var sig string
		_ = resp.DecodeResult(&sig)
		mu.Lock()
		defer mu.Unlock()
		results = append(results, sig)
	})
	if err != nil {
		t.Fatalf("%s - PersonalSign failed: %v", clientTestPrefix, err)
	}
	req := f.wallet.nextRequest(t, MethodPersonalSign)

	for _, sig := range []string{"0xsig", "0xdup"} {
		resp, _ := jsonrpc.NewResultResponse(f.url, req.ID, sig)
		f.wallet.respond(t, resp, s.DAppInfo.PeerID)
	}
	eventually(t, "completion", func() bool { mu.Lock(); defer mu.Unlock(); return len(results) > 0 })
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || results[0] != "0xsig" {
		t.Errorf("%s - completion results %v, want [0xsig]", clientTestPrefix, results)
	}
	if f.client.completions.Len() != 0 {
		t.Errorf("%s - completion table not empty", clientTestPrefix)
	}
}

func TestWalletUpdate_Merges(t *testing.T) {
	f := newFixture(t)
	s := f.established(t)

	chain := 137
	f.wallet.push(t, session.Update{Approved: true, ChainID: &chain}, s.DAppInfo.PeerID)
	eventually(t, "update", func() bool { _, _, _, n := f.delegate.counts(); return n == 1 })

	got, _ := f.client.Session(f.url)
	if got.WalletInfo.ChainID != 137 || len(got.WalletInfo.Accounts) != 1 || got.WalletInfo.Accounts[0] != "0xabc" {
		t.Errorf("%s - merged wallet info %+v", clientTestPrefix, got.WalletInfo)
	}
}

func TestWalletUpdate_NotApprovedTearsDown(t *testing.T) {
	f := newFixture(t)
	s := f.established(t)

	f.wallet.push(t, session.Update{Approved: false}, s.DAppInfo.PeerID)
	eventually(t, "disconnect", func() bool { _, _, n, _ := f.delegate.counts(); return n == 1 })
	time.Sleep(30 * time.Millisecond)

	if _, _, n, _ := f.delegate.counts(); n != 1 {
		t.Errorf("%s - disconnect reports = %d, want 1", clientTestPrefix, n)
	}
	if _, ok := f.client.Session(f.url); ok {
		t.Errorf("%s - session survived teardown", clientTestPrefix)
	}
	select {
	case msg := <-f.wallet.msgs:
		t.Errorf("%s - client echoed %+v after wallet teardown", clientTestPrefix, msg)
	default:
	}
}

func TestDisconnect_NotifiesWallet(t *testing.T) {
	f := newFixture(t)
	s := f.established(t)

	if err := f.client.Disconnect(s); err != nil {
		t.Fatalf("%s - Disconnect failed: %v", clientTestPrefix, err)
	}
	req := f.wallet.nextRequest(t, session.MethodSessionUpdate)
	var update session.Update
	if err := req.Params.At(0, &update); err != nil || update.Approved {
		t.Errorf("%s - end-session params %s (%v)", clientTestPrefix, req.Params.Raw(), err)
	}
	eventually(t, "disconnect", func() bool { _, _, n, _ := f.delegate.counts(); return n == 1 })

	if err := f.client.Disconnect(s); !errors.Is(err, wcerr.ErrInactiveSession) {
		t.Errorf("%s - second Disconnect error = %v, want ErrInactiveSession", clientTestPrefix, err)
	}
}

func TestOnText_DropsForeignFrames(t *testing.T) {
	f := newFixture(t)
	f.established(t)

	other, _ := wcuri.New("https://bridge.example.org")
	frame, _ := serializer.SerializeRequest(jsonrpc.NewRequest(other, session.MethodSessionUpdate, jsonrpc.Params{}), "x")
	f.client.onText(f.url, frame)
	f.client.onText(f.url, "not an envelope")

	if _, ok := f.client.Session(f.url); !ok {
		t.Errorf("%s - garbage frame affected the session", clientTestPrefix)
	}
}

func rawParams(t *testing.T, raw string) jsonrpc.Params {
	t.Helper()
	var p jsonrpc.Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("%s - bad params fixture %s: %v", clientTestPrefix, raw, err)
	}
	return p
}

func (w *fakeWallet) pushParams(t *testing.T, params jsonrpc.Params, topic string) {
	t.Helper()
	frame, err := serializer.SerializeRequest(jsonrpc.NewRequest(w.url, session.MethodSessionUpdate, params), topic)
	if err != nil {
		t.Fatalf("%s - SerializeRequest failed: %v", clientTestPrefix, err)
	}
	w.transport.Send(w.url, frame)
}

func TestWalletUpdate_MalformedIgnored(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{"approval missing", `[{"chainId":5}]`},
		{"approval null", `[{"approved":null,"chainId":5}]`},
		{"approval not a bool", `[{"approved":"false","chainId":5}]`},
		{"named params", `{"approved":false,"chainId":5}`},
		{"no params", `[]`},
		{"not an object", `[false]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.established(t)

			f.wallet.pushParams(t, rawParams(t, tt.params), s.DAppInfo.PeerID)
			// A valid update behind the bad one proves the bad one was already handled.
			chain := 42
			f.wallet.push(t, session.Update{Approved: true, ChainID: &chain}, s.DAppInfo.PeerID)
			eventually(t, "valid update", func() bool { _, _, _, n := f.delegate.counts(); return n == 1 })

			if _, _, n, _ := f.delegate.counts(); n != 0 {
				t.Errorf("%s - malformed update reported %d disconnects", clientTestPrefix, n)
			}
			got, ok := f.client.Session(f.url)
			if !ok {
				t.Fatalf("%s - malformed update ended the session", clientTestPrefix)
			}
			if got.WalletInfo.ChainID != 42 || !got.WalletInfo.Approved {
				t.Errorf("%s - wallet info %+v", clientTestPrefix, got.WalletInfo)
			}
		})
	}
}

func TestHandshake_FailedConnectReleasesCompletion(t *testing.T) {
	url, _ := wcuri.New("https://bridge.example.org")
	bridge := transporttest.NewBridge()
	dappT := bridge.NewTransport()
	d := &delegateRecorder{}
	c := New(d, session.DAppInfo{PeerMeta: session.PeerMeta{Name: "Test dApp"}}, dappT, nil)
	w := newFakeWallet(t, bridge, url)

	var first jsonrpc.Request
	for attempt := 1; attempt <= 3; attempt++ {
		if err := c.Connect(url); err != nil {
			t.Fatalf("%s - Connect #%d failed: %v", clientTestPrefix, attempt, err)
		}
		req := w.nextRequest(t, session.MethodSessionRequest)
		if attempt == 1 {
			first = req
		}
		dappT.Drop(url)
		eventually(t, "failure report", func() bool { n, _, _, _ := d.counts(); return n == attempt })
		if n := c.completions.Len(); n != 0 {
			t.Fatalf("%s - %d completions outstanding after failed attempt %d", clientTestPrefix, n, attempt)
		}
	}

	if err := c.Connect(url); err != nil {
		t.Fatalf("%s - final Connect failed: %v", clientTestPrefix, err)
	}
	current := w.nextRequest(t, session.MethodSessionRequest)

	// An answer to an abandoned handshake must not complete the current one.
	stale, _ := jsonrpc.NewResultResponse(url, first.ID, w.walletInfo(true))
	w.respond(t, stale, c.DAppInfo().PeerID)
	fresh, _ := jsonrpc.NewResultResponse(url, current.ID, w.walletInfo(true))
	w.respond(t, fresh, c.DAppInfo().PeerID)

	eventually(t, "connected", func() bool { _, n, _, _ := d.counts(); return n == 1 })
	time.Sleep(30 * time.Millisecond)
	if _, n, _, _ := d.counts(); n != 1 {
		t.Errorf("%s - connected reported %d times", clientTestPrefix, n)
	}
	if n := c.completions.Len(); n != 0 {
		t.Errorf("%s - %d completions left after handshake", clientTestPrefix, n)
	}
}
