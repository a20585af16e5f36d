// Package wcuri parses and builds WalletConnect connection URIs:
//
//	wc:<topic>@<version>?bridge=<url-encoded bridge URL>&key=<hex symmetric key>
package wcuri

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/morezero/walletconnect/pkg/wcerr"
)

const logPrefix = "wcuri:uri"

const (
	scheme = "wc:"

	// DefaultVersion is the protocol version written by New.
	DefaultVersion = "1"

	keySize = 32
)

// URI is an immutable connection descriptor. It is comparable and used as the map key
// for sessions and transport connections.
type URI struct {
	Topic     string
	Version   string
	BridgeURL string
	Key       string
}

// Parse parses a connection URI. Malformed input returns the zero URI and an error
// matching wcerr.ErrMalformedURI.
func Parse(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, scheme) {
		return URI{}, wcerr.ErrMalformedURI.With("missing wc: prefix")
	}
	rest := raw[len(scheme):]

	at := strings.Index(rest, "@")
	if at <= 0 {
		return URI{}, wcerr.ErrMalformedURI.With("missing topic")
	}
	topic := rest[:at]
	rest = rest[at+1:]

	q := strings.Index(rest, "?")
	if q <= 0 {
		return URI{}, wcerr.ErrMalformedURI.With("missing version or query")
	}
	version := rest[:q]

	values, err := url.ParseQuery(rest[q+1:])
	if err != nil {
		return URI{}, wcerr.ErrMalformedURI.With(fmt.Sprintf("invalid query: %v", err))
	}
	bridge := values.Get("bridge")
	if bridge == "" {
		return URI{}, wcerr.ErrMalformedURI.With("missing bridge")
	}
	key := values.Get("key")
	if key == "" {
		return URI{}, wcerr.ErrMalformedURI.With("missing key")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return URI{}, wcerr.ErrMalformedURI.With("key is not hex")
	}

	return URI{Topic: topic, Version: version, BridgeURL: bridge, Key: key}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests and constants.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String serializes the URI. Parse(u.String()) == u for every valid URI.
func (u URI) String() string {
	return fmt.Sprintf("%s%s@%s?bridge=%s&key=%s",
		scheme, u.Topic, u.Version, url.QueryEscape(u.BridgeURL), u.Key)
}

// MarshalText encodes the URI in its wc: string form.
func (u URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses the wc: string form.
func (u *URI) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// KeyBytes returns the decoded symmetric key.
func (u URI) KeyBytes() ([]byte, error) {
	b, err := hex.DecodeString(u.Key)
	if err != nil {
		return nil, wcerr.ErrMalformedURI.With("key is not hex")
	}
	return b, nil
}

// IsZero reports whether u is the zero URI.
func (u URI) IsZero() bool {
	return u == URI{}
}

// New creates a URI with a fresh topic and a random 256-bit key on the given bridge.
func New(bridgeURL string) (URI, error) {
	if strings.TrimSpace(bridgeURL) == "" {
		return URI{}, wcerr.ErrMalformedURI.With("missing bridge")
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return URI{}, fmt.Errorf("%s - failed to generate key: %w", logPrefix, err)
	}
	return URI{
		Topic:     uuid.NewString(),
		Version:   DefaultVersion,
		BridgeURL: bridgeURL,
		Key:       hex.EncodeToString(key),
	}, nil
}
