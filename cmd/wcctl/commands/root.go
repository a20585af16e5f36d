// Package commands implements the wcctl command tree.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/morezero/walletconnect/internal/config"
	"github.com/morezero/walletconnect/pkg/bootstrap"
	"github.com/morezero/walletconnect/pkg/engine"
	"github.com/morezero/walletconnect/pkg/transport"
)

const logPrefix = "wcctl:commands"

// options holds the persistent flags. Set flags override the WC_* environment.
type options struct {
	bridgeURL string
	metaFile  string
	logLevel  string
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "wcctl",
		Short:        "WalletConnect peer CLI",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.bridgeURL, "bridge", "", "bridge URL (default WC_BRIDGE_URL)")
	root.PersistentFlags().StringVar(&opts.metaFile, "meta", "", "peer metadata JSON file (default WC_PEER_META_FILE)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default LOG_LEVEL)")

	root.AddCommand(uriCmd(opts), dappCmd(opts), walletCmd(opts))
	return root
}

// load reads the peer config, applies flag overrides and installs the logger on stderr.
func (o *options) load(cmd *cobra.Command) (*config.PeerConfig, error) {
	cfg, err := config.LoadPeerConfig()
	if err != nil {
		return nil, err
	}
	if o.bridgeURL != "" {
		cfg.BridgeURL = o.bridgeURL
	}
	if o.metaFile != "" {
		cfg.PeerMetaFile = o.metaFile
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func loadProfile(cfg *config.PeerConfig, role string) (*bootstrap.PeerProfile, error) {
	return bootstrap.LoadPeerProfile(role, cfg.PeerMetaFile)
}

// newTransport picks WebSocket or NATS per URI, pinging WebSocket bridges every keepalive.
func newTransport(cfg *config.PeerConfig) transport.Transport {
	return &transport.Multi{
		WebSocket: transport.NewWebSocket(&transport.WebSocketOpts{PingInterval: cfg.KeepAlive}),
		NATS:      transport.NewNATS(&transport.NATSOpts{Name: "wcctl"}),
	}
}

func engineOptions(cfg *config.PeerConfig) *engine.Options {
	return &engine.Options{ReconnectDelay: cfg.ReconnectDelay}
}
