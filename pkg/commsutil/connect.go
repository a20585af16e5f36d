// Package commsutil provides NATS connection helpers and the bridge subject layout.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectWait  = 2 * time.Second
)

// ConnectOpts tunes a backplane connection. Zero fields take the defaults.
type ConnectOpts struct {
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
	// MaxReconnects bounds reconnect attempts. Zero means retry forever, since a relay
	// node is useless to its peers once it gives up on the backplane.
	MaxReconnects int
	// Extra options are applied last and override everything above.
	Extra []comms.Option
}

// Connect dials the NATS server at url and keeps the connection alive across outages.
// Pass nil for opts to use the defaults.
func Connect(url string, opts *ConnectOpts) (*comms.Conn, error) {
	if opts == nil {
		opts = &ConnectOpts{}
	}
	timeout, wait, maxReconnects := opts.Timeout, opts.ReconnectWait, opts.MaxReconnects
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if wait <= 0 {
		wait = DefaultReconnectWait
	}
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	slog.Info(fmt.Sprintf("%s - Dialing backplane %s as %q", logPrefix, url, opts.Name))
	nc, err := comms.Connect(url, append([]comms.Option{
		comms.Name(opts.Name),
		comms.Timeout(timeout),
		comms.ReconnectWait(wait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - backplane lost: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - backplane back on %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(*comms.Conn) {
			slog.Debug(fmt.Sprintf("%s - backplane connection closed", logPrefix))
		}),
	}, opts.Extra...)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to reach backplane %s: %w", logPrefix, url, err)
	}
	return nc, nil
}
