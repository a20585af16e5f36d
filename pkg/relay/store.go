package relay

import (
	"context"
	"sync"
	"time"
)

// PendingStore holds frames published to a topic nobody is subscribed to yet.
// db.PendingRepository implements it for multi-process bridges.
type PendingStore interface {
	Save(ctx context.Context, topic, frame string) error
	// Take removes and returns topic's unexpired frames in publish order.
	Take(ctx context.Context, topic string) ([]string, error)
	PurgeExpired(ctx context.Context) (int, error)
}

type pendingFrame struct {
	frame     string
	expiresAt time.Time
}

// MemoryStore is an in-process PendingStore with a fixed TTL.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	frames map[string][]pendingFrame
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl keeps frames for a day.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, frames: make(map[string][]pendingFrame)}
}

func (m *MemoryStore) Save(_ context.Context, topic, frame string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[topic] = append(m.frames[topic], pendingFrame{frame: frame, expiresAt: m.now().Add(m.ttl)})
	return nil
}

func (m *MemoryStore) Take(_ context.Context, topic string) ([]string, error) {
	m.mu.Lock()
	queued := m.frames[topic]
	delete(m.frames, topic)
	m.mu.Unlock()

	now := m.now()
	out := make([]string, 0, len(queued))
	for _, p := range queued {
		if now.Before(p.expiresAt) {
			out = append(out, p.frame)
		}
	}
	return out, nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for topic, queued := range m.frames {
		kept := queued[:0]
		for _, p := range queued {
			if now.Before(p.expiresAt) {
				kept = append(kept, p)
			} else {
				purged++
			}
		}
		if len(kept) == 0 {
			delete(m.frames, topic)
		} else {
			m.frames[topic] = kept
		}
	}
	return purged, nil
}

// Len returns the number of frames held for topic, expired ones included.
func (m *MemoryStore) Len(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames[topic])
}
