// Package events carries relayed bridge frames between relay nodes over the NATS backplane.
package events

// RelayedEnvelope is one pub frame mirrored from a relay node onto the backplane.
type RelayedEnvelope struct {
	Origin    string `json:"origin"`
	Topic     string `json:"topic"`
	Frame     string `json:"frame"`
	Timestamp string `json:"timestamp"`
}
