// Package jsonrpc holds the JSON-RPC 2.0 request/response model exchanged between peers.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

const typesLogPrefix = "jsonrpc:types"

// Version is the only JSON-RPC version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Params holds request parameters: a positional array or a named object, kept as raw JSON.
type Params struct {
	raw json.RawMessage
}

// NewPositional builds positional params from values.
func NewPositional(values ...interface{}) (Params, error) {
	if values == nil {
		values = []interface{}{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return Params{}, fmt.Errorf("%s - failed to encode params: %w", typesLogPrefix, err)
	}
	return Params{raw: raw}, nil
}

// NewNamed builds named params from a struct or map.
func NewNamed(v interface{}) (Params, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Params{}, fmt.Errorf("%s - failed to encode params: %w", typesLogPrefix, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return Params{}, fmt.Errorf("%s - named params must encode to an object", typesLogPrefix)
	}
	return Params{raw: raw}, nil
}

// IsPositional reports whether params are an array. Empty params count as positional.
func (p Params) IsPositional() bool {
	return len(p.raw) == 0 || p.raw[0] == '['
}

// Raw returns the raw JSON, "[]" when empty.
func (p Params) Raw() json.RawMessage {
	if len(p.raw) == 0 {
		return json.RawMessage("[]")
	}
	return p.raw
}

// Decode unmarshals the whole params value into v.
func (p Params) Decode(v interface{}) error {
	return json.Unmarshal(p.Raw(), v)
}

// Len returns the number of positional params, or 0 for named params.
func (p Params) Len() int {
	if !p.IsPositional() {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Raw(), &items); err != nil {
		return 0
	}
	return len(items)
}

// At unmarshals positional param i into v.
func (p Params) At(i int, v interface{}) error {
	if !p.IsPositional() {
		return fmt.Errorf("%s - params are named, not positional", typesLogPrefix)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Raw(), &items); err != nil {
		return err
	}
	if i < 0 || i >= len(items) {
		return fmt.Errorf("%s - no positional param at index %d (have %d)", typesLogPrefix, i, len(items))
	}
	return json.Unmarshal(items[i], v)
}

// Equal reports whether both params encode to the same JSON bytes.
func (p Params) Equal(o Params) bool {
	return bytes.Equal(p.Raw(), o.Raw())
}

func (p Params) MarshalJSON() ([]byte, error) {
	return p.Raw(), nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || (data[0] != '[' && data[0] != '{') {
		return fmt.Errorf("%s - params must be an array or an object", typesLogPrefix)
	}
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Request is an outbound or inbound JSON-RPC call bound to a session url.
type Request struct {
	URL    wcuri.URI `json:"-"`
	Method string    `json:"method"`
	ID     ID        `json:"id"`
	Params Params    `json:"params"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(url wcuri.URI, method string, params Params) Request {
	return Request{URL: url, Method: method, ID: NewID(), Params: params}
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  Params `json:"params"`
		ID      ID     `json:"id"`
	}{Version, r.Method, r.Params, r.ID})
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an error object.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Response answers the request carrying the same ID.
type Response struct {
	URL    wcuri.URI       `json:"-"`
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a success response with v as the result.
func NewResultResponse(url wcuri.URI, id ID, v interface{}) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("%s - failed to encode result: %w", typesLogPrefix, err)
	}
	return Response{URL: url, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(url wcuri.URI, id ID, e *Error) Response {
	return Response{URL: url, ID: id, Error: e}
}

// IsError reports whether the response carries an error object.
func (r Response) IsError() bool { return r.Error != nil }

// DecodeResult unmarshals the result into v. An error response is returned as *Error.
func (r Response) DecodeResult(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("%s - response has no result", typesLogPrefix)
	}
	return json.Unmarshal(r.Result, v)
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string `json:"jsonrpc"`
			Error   *Error `json:"error"`
			ID      ID     `json:"id"`
		}{Version, r.Error, r.ID})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		ID      ID              `json:"id"`
	}{Version, result, r.ID})
}

// Message is exactly one of a Request or a Response.
type Message struct {
	Request  *Request
	Response *Response
}

// IsRequest reports whether the message is a request.
func (m Message) IsRequest() bool { return m.Request != nil }

// IsResponse reports whether the message is a response.
func (m Message) IsResponse() bool { return m.Response != nil }
