package session

import (
	"sort"
	"sync"

	"github.com/morezero/walletconnect/pkg/wcuri"
)

// Registry is a guarded map of sessions keyed by URI. All access goes through its methods
// and every value crossing the boundary is a copy.
type Registry struct {
	mu    sync.RWMutex
	items map[wcuri.URI]Session
}

func NewRegistry() *Registry {
	return &Registry{
		items: make(map[wcuri.URI]Session),
	}
}

// AddOrUpdate stores s, replacing any session with the same URL.
func (r *Registry) AddOrUpdate(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.URL] = s.Clone()
}

// Update applies fn to the stored session for url under the lock. It returns the updated
// session and false when there is none.
func (r *Registry) Update(url wcuri.URI, fn func(*Session)) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[url]
	if !ok {
		return Session{}, false
	}
	s = s.Clone()
	fn(&s)
	s.URL = url
	r.items[url] = s
	return s.Clone(), true
}

func (r *Registry) Find(url wcuri.URI) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[url]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// Remove deletes the session for url and reports whether one was present.
func (r *Registry) Remove(url wcuri.URI) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[url]
	delete(r.items, url)
	return ok
}

func (r *Registry) Contains(url wcuri.URI) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[url]
	return ok
}

// All returns copies of every session sorted by topic.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL.Topic == out[j].URL.Topic {
			return out[i].URL.BridgeURL < out[j].URL.BridgeURL
		}
		return out[i].URL.Topic < out[j].URL.Topic
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
