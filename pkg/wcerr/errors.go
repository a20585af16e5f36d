// Package wcerr defines the structured error taxonomy shared by the protocol packages.
package wcerr

import "errors"

// Kind groups error codes by the layer that raises them.
type Kind string

const (
	KindConnection Kind = "connection"
	KindSession    Kind = "session"
	KindCrypto     Kind = "crypto"
	KindProtocol   Kind = "protocol"
	KindTransport  Kind = "transport"
)

// Error is a structured protocol error. Two errors match under errors.Is when their
// codes are equal, so callers can compare against the sentinels below even after wrapping.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// With returns a copy of e with a more specific message, keeping kind and code.
func (e *Error) With(message string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: message}
}

var (
	ErrDuplicateConnect   = New(KindConnection, "DUPLICATE_CONNECT", "a session or connect attempt already exists for this url")
	ErrInactiveSession    = New(KindConnection, "INACTIVE_SESSION", "trying to disconnect an inactive session")
	ErrUnsupportedVersion = New(KindConnection, "UNSUPPORTED_VERSION", "protocol version is not supported")
	ErrMalformedURI       = New(KindConnection, "MALFORMED_URI", "malformed connection url")

	ErrMissingWalletInfo = New(KindSession, "MISSING_WALLET_INFO", "session has no wallet info")
	ErrSessionNotFound   = New(KindSession, "SESSION_NOT_FOUND", "no session for url")

	ErrAuthenticationFailed = New(KindCrypto, "AUTHENTICATION_FAILED", "hmac verification failed")
	ErrMalformedCiphertext  = New(KindCrypto, "MALFORMED_CIPHERTEXT", "malformed encryption payload")

	ErrMalformedEnvelope = New(KindProtocol, "MALFORMED_ENVELOPE", "malformed pub/sub envelope")
	ErrMalformedPayload  = New(KindProtocol, "MALFORMED_PAYLOAD", "payload is not a valid JSON-RPC 2.0 message")
	ErrUnknownMethod     = New(KindProtocol, "UNKNOWN_METHOD", "no handler for method")
	ErrMissingRequestID  = New(KindProtocol, "MISSING_REQUEST_ID", "request has no id")

	ErrNotConnected = New(KindTransport, "NOT_CONNECTED", "transport is not connected")
)

// KindOf returns the kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
