package session

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWalletInfo_Merge(t *testing.T) {
	chain := 5
	tests := []struct {
		name         string
		update       Update
		wantAccounts []string
		wantChain    int
	}{
		{"approval only", Update{Approved: true}, []string{"0x1"}, 1},
		{"accounts", Update{Approved: true, Accounts: []string{"0x2", "0x3"}}, []string{"0x2", "0x3"}, 1},
		{"chain", Update{Approved: true, ChainID: &chain}, []string{"0x1"}, 5},
		{"empty accounts replace", Update{Approved: true, Accounts: []string{}}, []string{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WalletInfo{Approved: true, Accounts: []string{"0x1"}, ChainID: 1}
			w.Merge(tt.update)
			if len(w.Accounts) != len(tt.wantAccounts) || w.ChainID != tt.wantChain {
				t.Fatalf("%s - merged %+v", registryTestPrefix, w)
			}
			for i := range w.Accounts {
				if w.Accounts[i] != tt.wantAccounts[i] {
					t.Errorf("%s - accounts %v, want %v", registryTestPrefix, w.Accounts, tt.wantAccounts)
				}
			}
		})
	}
}

func TestUpdate_JSONOmitsAbsentFields(t *testing.T) {
	data, err := json.Marshal(Update{Approved: false})
	if err != nil {
		t.Fatalf("%s - Marshal failed: %v", registryTestPrefix, err)
	}
	if string(data) != `{"approved":false}` {
		t.Errorf("%s - got %s", registryTestPrefix, data)
	}

	var u Update
	if err := json.Unmarshal([]byte(`{"approved":true,"chainId":3}`), &u); err != nil {
		t.Fatalf("%s - Unmarshal failed: %v", registryTestPrefix, err)
	}
	if !u.Approved || u.ChainID == nil || *u.ChainID != 3 || u.Accounts != nil {
		t.Errorf("%s - decoded %+v", registryTestPrefix, u)
	}
}

func TestUpdate_UnmarshalRequiresApproved(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"chain only", `{"chainId":5}`, ErrMissingApproval},
		{"null approval", `{"approved":null,"accounts":["0x1"]}`, ErrMissingApproval},
		{"empty object", `{}`, ErrMissingApproval},
		{"string approval", `{"approved":"yes"}`, nil},
		{"not an object", `[true]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u Update
			err := json.Unmarshal([]byte(tt.raw), &u)
			if err == nil {
				t.Fatalf("%s - %s decoded as %+v", registryTestPrefix, tt.raw, u)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("%s - error = %v, want %v", registryTestPrefix, err, tt.wantErr)
			}
		})
	}

	var u Update
	if err := json.Unmarshal([]byte(`{"approved":false}`), &u); err != nil || u.Approved {
		t.Errorf("%s - explicit false decoded as %+v (%v)", registryTestPrefix, u, err)
	}
}
