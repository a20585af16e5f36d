package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/morezero/walletconnect/pkg/session"
)

const logPrefix = "bootstrap:loader"

// Role names accepted by DefaultPeerProfile.
const (
	RoleDApp   = "dapp"
	RoleWallet = "wallet"
)

// LoadPeerProfile loads a peer profile from file paths or environment.
// It tries paths in order: first any paths passed in, then WC_PEER_META_FILE env, then defaults.
// Unreadable or invalid files are skipped; the role default is returned when none load.
func LoadPeerProfile(role string, paths ...string) (*PeerProfile, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("WC_PEER_META_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/peer.json", "peer.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var profile PeerProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse peer profile %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded peer profile from %s", logPrefix, p))
		return MergePeerProfiles(DefaultPeerProfile(role), &profile), nil
	}

	slog.Info(fmt.Sprintf("%s - Using default %s peer profile", logPrefix, role))
	return DefaultPeerProfile(role), nil
}

// DefaultPeerProfile returns the built-in profile for role.
func DefaultPeerProfile(role string) *PeerProfile {
	if role == RoleWallet {
		return &PeerProfile{
			PeerMeta: session.PeerMeta{
				Name:        "wcctl wallet",
				Description: "Command-line wallet peer",
				URL:         "https://github.com/morezero/walletconnect",
				Icons:       []string{},
			},
			ChainID: 1,
		}
	}
	return &PeerProfile{
		PeerMeta: session.PeerMeta{
			Name:        "wcctl dApp",
			Description: "Command-line dApp peer",
			URL:         "https://github.com/morezero/walletconnect",
			Icons:       []string{},
		},
	}
}

// MergePeerProfiles overlays the non-empty fields of override onto base.
func MergePeerProfiles(base, override *PeerProfile) *PeerProfile {
	merged := *base
	merged.PeerMeta.Icons = append([]string(nil), base.PeerMeta.Icons...)
	merged.Accounts = append([]string(nil), base.Accounts...)

	m := override.PeerMeta
	if m.Name != "" {
		merged.PeerMeta.Name = m.Name
	}
	if m.Description != "" {
		merged.PeerMeta.Description = m.Description
	}
	if m.URL != "" {
		merged.PeerMeta.URL = m.URL
	}
	if len(m.Icons) > 0 {
		merged.PeerMeta.Icons = append([]string(nil), m.Icons...)
	}
	if m.SSL != nil {
		ssl := *m.SSL
		merged.PeerMeta.SSL = &ssl
	}
	if len(override.Accounts) > 0 {
		merged.Accounts = append([]string(nil), override.Accounts...)
	}
	if override.ChainID != 0 {
		merged.ChainID = override.ChainID
	}
	return &merged
}
