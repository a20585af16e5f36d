package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const updateLogPrefix = "session:update"

// Protocol methods exchanged between the roles.
const (
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionUpdate  = "wc_sessionUpdate"
)

// ErrMissingApproval is returned when a decoded update carries no approved flag.
var ErrMissingApproval = errors.New("session update requires a boolean approved field")

// Update is the single param of wc_sessionUpdate. Approved is required; Accounts and
// ChainID are only applied when present.
type Update struct {
	Approved bool     `json:"approved"`
	Accounts []string `json:"accounts,omitempty"`
	ChainID  *int     `json:"chainId,omitempty"`
}

// UnmarshalJSON rejects updates without approved, so a partial update can never read as a
// teardown.
func (u *Update) UnmarshalJSON(data []byte) error {
	var wire struct {
		Approved *bool    `json:"approved"`
		Accounts []string `json:"accounts"`
		ChainID  *int     `json:"chainId"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%s - invalid session update: %w", updateLogPrefix, err)
	}
	if wire.Approved == nil {
		return fmt.Errorf("%s - %w", updateLogPrefix, ErrMissingApproval)
	}
	*u = Update{Approved: *wire.Approved, Accounts: wire.Accounts, ChainID: wire.ChainID}
	return nil
}

// Merge applies the optional fields of u to w.
func (w *WalletInfo) Merge(u Update) {
	w.Approved = u.Approved
	if u.Accounts != nil {
		w.Accounts = append([]string(nil), u.Accounts...)
	}
	if u.ChainID != nil {
		w.ChainID = *u.ChainID
	}
}
