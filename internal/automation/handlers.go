package automation

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler executes one action on behalf of a module. Returning an error marks the
// attempt failed; the error text is stored in the action log.
type Handler interface {
	Handle(ctx context.Context, actionType string, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, actionType string, payload json.RawMessage) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, actionType string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, actionType, payload)
}

// RecordOnly acknowledges the action without side effects. Modules that never
// registered a handler fall back to it.
var RecordOnly = HandlerFunc(func(_ context.Context, actionType string, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"recorded": true, "actionType": actionType})
})

// Registry maps module ids to their action handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates an empty registry that falls back to RecordOnly.
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[string]Handler{},
		fallback: RecordOnly,
	}
}

// Register binds h to moduleID, replacing any previous handler.
func (r *Registry) Register(moduleID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[moduleID] = h
}

// SetFallback replaces the handler used for unregistered modules.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Lookup returns the module's handler and whether it was explicitly registered.
func (r *Registry) Lookup(moduleID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[moduleID]; ok {
		return h, true
	}
	return r.fallback, false
}
