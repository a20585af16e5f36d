// Package session holds the pairing model shared by both roles and the guarded registry
// that stores it.
package session

import (
	"github.com/google/uuid"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

// PeerMeta describes a peer application to the other side.
type PeerMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
	SSL         *bool    `json:"ssl,omitempty"`
}

// DAppInfo is sent by the client role in the handshake request.
type DAppInfo struct {
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
	ChainID  *int     `json:"chainId,omitempty"`
	Approved *bool    `json:"approved,omitempty"`
}

// WalletInfo is returned by the server role once the user approves the handshake.
type WalletInfo struct {
	Approved bool     `json:"approved"`
	Accounts []string `json:"accounts"`
	ChainID  int      `json:"chainId"`
	PeerID   string   `json:"peerId"`
	PeerMeta PeerMeta `json:"peerMeta"`
}

// Session is one logical pairing addressed by its connection URI.
// WalletInfo is nil until the handshake is approved.
type Session struct {
	URL        wcuri.URI   `json:"url"`
	DAppInfo   DAppInfo    `json:"dAppInfo"`
	WalletInfo *WalletInfo `json:"walletInfo,omitempty"`
}

// Clone returns a deep copy so registry entries never share mutable state with callers.
func (s Session) Clone() Session {
	out := s
	out.DAppInfo.PeerMeta = s.DAppInfo.PeerMeta.clone()
	if s.DAppInfo.ChainID != nil {
		v := *s.DAppInfo.ChainID
		out.DAppInfo.ChainID = &v
	}
	if s.DAppInfo.Approved != nil {
		v := *s.DAppInfo.Approved
		out.DAppInfo.Approved = &v
	}
	if s.WalletInfo != nil {
		w := *s.WalletInfo
		w.Accounts = append([]string(nil), s.WalletInfo.Accounts...)
		w.PeerMeta = s.WalletInfo.PeerMeta.clone()
		out.WalletInfo = &w
	}
	return out
}

func (m PeerMeta) clone() PeerMeta {
	out := m
	if m.Icons != nil {
		out.Icons = append([]string(nil), m.Icons...)
	}
	if m.SSL != nil {
		v := *m.SSL
		out.SSL = &v
	}
	return out
}

// NewPeerID returns a fresh peer id. Each peer subscribes on its own id.
func NewPeerID() string {
	return uuid.NewString()
}
