// Package serializer wraps JSON-RPC messages in encrypted pub/sub envelopes and unwraps them.
package serializer

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/walletconnect/pkg/codec"
	"github.com/morezero/walletconnect/pkg/jsonrpc"
	"github.com/morezero/walletconnect/pkg/wcerr"
	"github.com/morezero/walletconnect/pkg/wcuri"
)

const logPrefix = "serializer:serializer"

// Envelope types.
const (
	TypePub = "pub"
	TypeSub = "sub"
)

// Envelope is the text frame exchanged with the bridge.
type Envelope struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent,omitempty"`
}

// Validate checks the envelope shape.
func (e Envelope) Validate() error {
	if e.Topic == "" {
		return wcerr.ErrMalformedEnvelope.With("missing topic")
	}
	switch e.Type {
	case TypeSub:
		return nil
	case TypePub:
		if e.Payload == "" {
			return wcerr.ErrMalformedEnvelope.With("pub envelope has no payload")
		}
		return nil
	default:
		return wcerr.ErrMalformedEnvelope.With(fmt.Sprintf("unknown envelope type %q", e.Type))
	}
}

// ParseEnvelope decodes and validates a bridge frame.
func ParseEnvelope(text string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, wcerr.ErrMalformedEnvelope.With(fmt.Sprintf("invalid json: %v", err))
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Subscription returns the sub frame for topic.
func Subscription(topic string) (string, error) {
	return encodeEnvelope(Envelope{Topic: topic, Type: TypeSub, Payload: ""})
}

// SerializeRequest encrypts req with its URL key and wraps it as a pub frame on topic.
func SerializeRequest(req jsonrpc.Request, topic string) (string, error) {
	plain, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode request %s: %w", logPrefix, req.Method, err)
	}
	return seal(plain, req.URL, topic)
}

// SerializeResponse encrypts resp with its URL key and wraps it as a pub frame on topic.
func SerializeResponse(resp jsonrpc.Response, topic string) (string, error) {
	plain, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode response %v: %w", logPrefix, resp.ID, err)
	}
	return seal(plain, resp.URL, topic)
}

func seal(plain []byte, url wcuri.URI, topic string) (string, error) {
	key, err := url.KeyBytes()
	if err != nil {
		return "", err
	}
	payload, err := codec.Encode(plain, key)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encrypt payload: %w", logPrefix, err)
	}
	return encodeEnvelope(Envelope{Topic: topic, Type: TypePub, Payload: string(payload)})
}

func encodeEnvelope(env Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode envelope: %w", logPrefix, err)
	}
	return string(data), nil
}

// Open parses the envelope and decrypts its payload with url's key, returning the plaintext.
// Envelope faults are wcerr.ErrMalformedEnvelope; crypto faults come from pkg/codec.
func Open(text string, url wcuri.URI) ([]byte, error) {
	env, err := ParseEnvelope(text)
	if err != nil {
		return nil, err
	}
	if env.Type != TypePub {
		return nil, wcerr.ErrMalformedEnvelope.With("expected a pub envelope")
	}
	key, err := url.KeyBytes()
	if err != nil {
		return nil, err
	}
	plain, err := codec.Decode([]byte(env.Payload), key)
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - decrypted frame on topic %s: %s", logPrefix, env.Topic, plain))
	return plain, nil
}

// Deserialize unwraps a pub frame into a JSON-RPC request or response bound to url.
// Frames that decrypt but are not valid JSON-RPC fail with wcerr.ErrMalformedPayload
// (or wcerr.ErrMissingRequestID), never with a crypto error.
func Deserialize(text string, url wcuri.URI) (jsonrpc.Message, error) {
	plain, err := Open(text, url)
	if err != nil {
		return jsonrpc.Message{}, err
	}
	return jsonrpc.Decode(plain, url)
}

// DeserializeRequest is Deserialize narrowed to requests.
func DeserializeRequest(text string, url wcuri.URI) (jsonrpc.Request, error) {
	msg, err := Deserialize(text, url)
	if err != nil {
		return jsonrpc.Request{}, err
	}
	if !msg.IsRequest() {
		return jsonrpc.Request{}, wcerr.ErrMalformedPayload.With("expected a request")
	}
	return *msg.Request, nil
}

// DeserializeResponse is Deserialize narrowed to responses.
func DeserializeResponse(text string, url wcuri.URI) (jsonrpc.Response, error) {
	msg, err := Deserialize(text, url)
	if err != nil {
		return jsonrpc.Response{}, err
	}
	if !msg.IsResponse() {
		return jsonrpc.Response{}, wcerr.ErrMalformedPayload.With("expected a response")
	}
	return *msg.Response, nil
}
