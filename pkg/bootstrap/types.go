// Package bootstrap loads the peer profile (metadata, accounts, chain) a CLI peer presents
// during the handshake.
package bootstrap

import "github.com/morezero/walletconnect/pkg/session"

// PeerProfile is the on-disk peer configuration. Accounts and ChainID are only used by the
// wallet role.
type PeerProfile struct {
	PeerMeta session.PeerMeta `json:"peerMeta"`
	Accounts []string         `json:"accounts,omitempty"`
	ChainID  int              `json:"chainId,omitempty"`
}

// WalletInfo builds the approval a wallet answers the handshake with.
func (p *PeerProfile) WalletInfo(peerID string) session.WalletInfo {
	return session.WalletInfo{
		Approved: true,
		Accounts: append([]string(nil), p.Accounts...),
		ChainID:  p.ChainID,
		PeerID:   peerID,
		PeerMeta: p.PeerMeta,
	}
}
