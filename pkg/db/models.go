package db

import "time"

// PendingMessage is a row in the pending_messages table: a pub frame held for a topic that
// had no subscriber when it was published.
type PendingMessage struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Frame     string    `json:"frame"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Migration is one schema step loaded from the migrations directory.
type Migration struct {
	Name string
	Up   string
	Down string
}
