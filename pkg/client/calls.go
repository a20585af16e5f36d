package client

import (
	"encoding/json"
	"fmt"

	"github.com/morezero/walletconnect/pkg/engine"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

// Ethereum methods the client exposes as typed calls.
const (
	MethodPersonalSign          = "personal_sign"
	MethodEthSign               = "eth_sign"
	MethodEthSignTypedData      = "eth_signTypedData"
	MethodEthSendTransaction    = "eth_sendTransaction"
	MethodEthSignTransaction    = "eth_signTransaction"
	MethodEthSendRawTransaction = "eth_sendRawTransaction"
)

// Transaction is the single param of eth_sendTransaction and eth_signTransaction. Quantities
// are 0x-prefixed hex strings.
type Transaction struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Data     string `json:"data,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Value    string `json:"value,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// PersonalSign asks the wallet to sign message with account.
func (c *Client) PersonalSign(url wcuri.URI, message, account string, completion engine.Completion) error {
	return c.call(url, MethodPersonalSign, completion, message, account)
}

// EthSign asks the wallet to sign message with account (raw eth_sign argument order).
func (c *Client) EthSign(url wcuri.URI, account, message string, completion engine.Completion) error {
	return c.call(url, MethodEthSign, completion, account, message)
}

// EthSignTypedData asks the wallet to sign typed data. data is sent as a JSON string.
func (c *Client) EthSignTypedData(url wcuri.URI, account, data string, completion engine.Completion) error {
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("%s - typed data is not valid JSON", logPrefix)
	}
	return c.call(url, MethodEthSignTypedData, completion, account, data)
}

// EthSendTransaction asks the wallet to sign and broadcast tx.
func (c *Client) EthSendTransaction(url wcuri.URI, tx Transaction, completion engine.Completion) error {
	return c.call(url, MethodEthSendTransaction, completion, tx)
}

// EthSignTransaction asks the wallet to sign tx without broadcasting it.
func (c *Client) EthSignTransaction(url wcuri.URI, tx Transaction, completion engine.Completion) error {
	return c.call(url, MethodEthSignTransaction, completion, tx)
}

// EthSendRawTransaction asks the wallet to broadcast an already signed transaction.
func (c *Client) EthSendRawTransaction(url wcuri.URI, data string, completion engine.Completion) error {
	return c.call(url, MethodEthSendRawTransaction, completion, data)
}

func (c *Client) call(url wcuri.URI, method string, completion engine.Completion, params ...interface{}) error {
	p, err := jsonrpc.NewPositional(params...)
	if err != nil {
		return fmt.Errorf("%s - failed to encode %s params: %w", logPrefix, method, err)
	}
	return c.Send(jsonrpc.NewRequest(url, method, p), completion)
}
