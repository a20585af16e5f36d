package engine

import (
	"sync"

	"github.com/morezero/walletconnect/pkg/jsonrpc"
)

// Completion receives the response to an outstanding request.
type Completion func(resp jsonrpc.Response)

// Completions is the guarded id -> completion table. Take removes the entry before it is
// invoked, so a completion fires at most once even if the same id arrives twice.
type Completions struct {
	mu    sync.Mutex
	items map[string]Completion
}

func NewCompletions() *Completions {
	return &Completions{items: make(map[string]Completion)}
}

// Add registers fn for id, replacing any previous completion for the same id.
func (c *Completions) Add(id jsonrpc.ID, fn Completion) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id.Key()] = fn
}

// Take removes and returns the completion for id.
func (c *Completions) Take(id jsonrpc.ID) (Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn, ok := c.items[id.Key()]
	if ok {
		delete(c.items, id.Key())
	}
	return fn, ok
}

func (c *Completions) Remove(id jsonrpc.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id.Key())
}

func (c *Completions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
