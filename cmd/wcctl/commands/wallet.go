package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morezero/walletconnect/internal/config"
	"github.com/morezero/walletconnect/pkg/bootstrap"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/server"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

// codeUserRejected is the EIP-1193 "user rejected the request" error.
const codeUserRejected = 4001

// wallet <uri>: approve the dApp on uri with the configured accounts.
func walletCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <uri>",
		Short: "Approve the dApp behind a connection URI and print its requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := wcuri.Parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			profile, err := loadProfile(cfg, bootstrap.RoleWallet)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWallet(ctx, cmd.OutOrStdout(), cfg, walletInfoFor(cfg, profile), url)
		},
	}
}

// walletInfoFor builds the approval. WC_ACCOUNTS and WC_CHAIN_ID override the profile.
func walletInfoFor(cfg *config.PeerConfig, profile *bootstrap.PeerProfile) session.WalletInfo {
	info := profile.WalletInfo(session.NewPeerID())
	if len(cfg.Accounts) > 0 {
		info.Accounts = append([]string(nil), cfg.Accounts...)
	}
	if cfg.ChainID > 0 {
		info.ChainID = cfg.ChainID
	}
	return info
}

// walletPeer approves every handshake with info and rejects every call after printing it.
type walletPeer struct {
	mu     sync.Mutex
	out    io.Writer
	info   session.WalletInfo
	server *server.Server

	ended   chan struct{}
	endOnce sync.Once
}

func (p *walletPeer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *walletPeer) end() { p.endOnce.Do(func() { close(p.ended) }) }

func (p *walletPeer) DidFailToConnect(url wcuri.URI) {
	p.printf("connection on %s failed\n", url.Topic)
	p.end()
}

func (p *walletPeer) ShouldStart(s session.Session, _ jsonrpc.ID, completion func(session.WalletInfo)) {
	p.printf("session request from %s (%s)\n", s.DAppInfo.PeerMeta.Name, s.DAppInfo.PeerMeta.URL)
	completion(p.info)
}

func (p *walletPeer) DidConnect(s session.Session) {
	p.printf("approved %s\n", s.DAppInfo.PeerMeta.Name)
}

func (p *walletPeer) DidDisconnect(s session.Session) {
	p.printf("disconnected from %s\n", s.DAppInfo.PeerMeta.Name)
	p.end()
}

func (p *walletPeer) DidUpdate(s session.Session) {
	p.printf("dApp updated the session\n")
}

// CanHandle accepts every request the built-in handlers left over.
func (p *walletPeer) CanHandle(jsonrpc.Request) bool { return true }

func (p *walletPeer) Handle(req jsonrpc.Request) {
	p.printf("request %s %s\n", req.Method, req.Params.Raw())
	resp := jsonrpc.NewErrorResponse(req.URL, req.ID, jsonrpc.NewError(codeUserRejected, "User rejected the request"))
	if err := p.server.Send(resp); err != nil {
		p.printf("failed to answer %s: %v\n", req.Method, err)
	}
}

// runWallet holds the session on url until ctx ends or the dApp leaves.
func runWallet(ctx context.Context, out io.Writer, cfg *config.PeerConfig, info session.WalletInfo, url wcuri.URI) error {
	peer := &walletPeer{out: out, info: info, ended: make(chan struct{})}
	peer.server = server.New(peer, newTransport(cfg), engineOptions(cfg))
	peer.server.Register(peer)
	if err := peer.server.Connect(url); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if sess, ok := peer.server.Session(url); ok {
			return peer.server.Disconnect(sess)
		}
	case <-peer.ended:
	}
	return nil
}
