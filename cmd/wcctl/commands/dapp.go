package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/morezero/walletconnect/internal/config"
	"github.com/morezero/walletconnect/pkg/bootstrap"
	"github.com/morezero/walletconnect/pkg/client"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/session"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

// dapp: open a session, print its URI and wait for a wallet.
func dappCmd(opts *options) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "dapp",
		Short: "Print a connection URI and wait for a wallet to approve it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			profile, err := loadProfile(cfg, bootstrap.RoleDApp)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDApp(ctx, cmd.OutOrStdout(), cfg, profile, message)
		},
	}
	cmd.Flags().StringVar(&message, "sign", "", "ask the wallet to personal_sign this message once connected")
	return cmd
}

// dappPeer prints client events and hands the outcomes to runDApp.
type dappPeer struct {
	mu  sync.Mutex
	out io.Writer

	connected chan session.Session
	failed    chan struct{}
	ended     chan struct{}
	endOnce   sync.Once
}

func newDAppPeer(out io.Writer) *dappPeer {
	return &dappPeer{
		out:       out,
		connected: make(chan session.Session, 1),
		failed:    make(chan struct{}, 1),
		ended:     make(chan struct{}),
	}
}

func (p *dappPeer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *dappPeer) DidFailToConnect(url wcuri.URI) {
	p.printf("connection on %s failed or was rejected\n", url.Topic)
	select {
	case p.failed <- struct{}{}:
	default:
	}
}

func (p *dappPeer) DidConnect(s session.Session) {
	p.printf("connected to %s: accounts=%s chainId=%d\n", s.WalletInfo.PeerMeta.Name,
		strings.Join(s.WalletInfo.Accounts, ","), s.WalletInfo.ChainID)
	select {
	case p.connected <- s:
	default:
	}
}

func (p *dappPeer) DidDisconnect(s session.Session) {
	p.printf("disconnected from %s\n", s.URL.Topic)
	p.endOnce.Do(func() { close(p.ended) })
}

func (p *dappPeer) DidUpdate(s session.Session) {
	p.printf("wallet updated: accounts=%s chainId=%d\n", strings.Join(s.WalletInfo.Accounts, ","), s.WalletInfo.ChainID)
}

// runDApp pairs with a wallet, optionally asks for one signature, then holds the session
// until ctx ends or the wallet leaves.
func runDApp(ctx context.Context, out io.Writer, cfg *config.PeerConfig, profile *bootstrap.PeerProfile, message string) error {
	url, err := wcuri.New(cfg.BridgeURL)
	if err != nil {
		return err
	}
	peer := newDAppPeer(out)
	c := client.New(peer, session.DAppInfo{PeerMeta: profile.PeerMeta}, newTransport(cfg), engineOptions(cfg))
	if err := c.Connect(url); err != nil {
		return err
	}
	peer.printf("%s\n", url.String())

	var sess session.Session
	select {
	case sess = <-peer.connected:
	case <-peer.failed:
		return fmt.Errorf("%s - no wallet session on %s", logPrefix, url.Topic)
	case <-ctx.Done():
		return nil
	}

	if message != "" {
		if err := personalSign(ctx, peer, c, sess, message); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		if err := c.Disconnect(sess); err != nil {
			slog.Debug(fmt.Sprintf("%s - disconnect: %v", logPrefix, err))
		}
	case <-peer.ended:
	}
	return nil
}

func personalSign(ctx context.Context, peer *dappPeer, c *client.Client, sess session.Session, message string) error {
	if len(sess.WalletInfo.Accounts) == 0 {
		return fmt.Errorf("%s - wallet shared no accounts", logPrefix)
	}
	results := make(chan jsonrpc.Response, 1)
	err := c.PersonalSign(sess.URL, message, sess.WalletInfo.Accounts[0], func(resp jsonrpc.Response) {
		results <- resp
	})
	if err != nil {
		return err
	}

	select {
	case resp := <-results:
		if resp.IsError() {
			peer.printf("personal_sign failed: %d %s\n", resp.Error.Code, resp.Error.Message)
			return nil
		}
		var signature string
		if err := resp.DecodeResult(&signature); err != nil {
			return fmt.Errorf("%s - unexpected personal_sign result: %w", logPrefix, err)
		}
		peer.printf("signature: %s\n", signature)
		return nil
	case <-ctx.Done():
		return nil
	}
}
