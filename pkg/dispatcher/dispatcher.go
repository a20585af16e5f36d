// Package dispatcher routes inbound JSON-RPC requests through an ordered handler chain.
package dispatcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/walletconnect/pkg/jsonrpc"
)

const logPrefix = "dispatcher:dispatch"

// Handler is one link of the chain. Handlers are compared by identity on Unregister, so
// register pointer types.
type Handler interface {
	CanHandle(req jsonrpc.Request) bool
	Handle(req jsonrpc.Request)
}

// MethodHandler handles every request whose method equals Method.
type MethodHandler struct {
	Method string
	Fn     func(req jsonrpc.Request)
}

// NewMethodHandler creates a MethodHandler.
func NewMethodHandler(method string, fn func(req jsonrpc.Request)) *MethodHandler {
	return &MethodHandler{Method: method, Fn: fn}
}

func (h *MethodHandler) CanHandle(req jsonrpc.Request) bool { return req.Method == h.Method }

func (h *MethodHandler) Handle(req jsonrpc.Request) { h.Fn(req) }

// Chain is an ordered, guarded list of handlers. The first handler whose CanHandle
// returns true receives the request.
type Chain struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewChain creates a chain holding handlers in order.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: append([]Handler(nil), handlers...)}
}

// Register appends h to the chain.
func (c *Chain) Register(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Unregister removes h and reports whether it was present.
func (c *Chain) Unregister(h Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.handlers {
		if existing == h {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Handlers returns a snapshot of the chain.
func (c *Chain) Handlers() []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Handler(nil), c.handlers...)
}

// Dispatch hands req to the first matching handler and reports whether one matched.
// The handler runs outside the chain's lock and may register or unregister handlers.
func (c *Chain) Dispatch(req jsonrpc.Request) bool {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	for _, h := range c.Handlers() {
		if h.CanHandle(req) {
			h.Handle(req)
			return true
		}
	}
	slog.Warn(fmt.Sprintf("%s - Unknown method: %s", logPrefix, req.Method))
	return false
}

// MethodNotFound builds the -32601 response echoing req's id.
func MethodNotFound(req jsonrpc.Request) jsonrpc.Response {
	return jsonrpc.NewErrorResponse(req.URL, req.ID,
		jsonrpc.NewError(jsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)))
}

// InvalidParams builds the -32602 response echoing req's id.
func InvalidParams(req jsonrpc.Request, detail string) jsonrpc.Response {
	return jsonrpc.NewErrorResponse(req.URL, req.ID,
		jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("Invalid params for %s: %s", req.Method, detail)))
}
