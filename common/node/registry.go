package node

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps node type strings to handler singletons. It is populated at
// startup and read-only afterwards; dynamic plugin types register through the
// same path before any run that references them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Register adds a handler. Duplicate types are rejected.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("cannot register nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("cannot register handler with empty type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler type %q already registered", t)
	}
	r.handlers[t] = h
	if r.log != nil {
		r.log.Debug("registered node handler", "type", t, "category", h.Category(), "trigger", h.IsTrigger())
	}
	return nil
}

// MustRegister panics on registration failure; for startup wiring only.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Replace swaps an existing handler, used when a plugin reinstalls.
func (r *Registry) Replace(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Deregister removes a handler type, used on plugin uninstall.
func (r *Registry) Deregister(nodeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, nodeType)
}

// Get looks up a handler by type.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Known reports whether a type is registered.
func (r *Registry) Known(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// IsTrigger reports whether a type is a registered trigger.
func (r *Registry) IsTrigger(nodeType string) bool {
	h, ok := r.Get(nodeType)
	return ok && h.IsTrigger()
}

// Types returns all registered type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ByCategory groups registered handlers by category for catalog listings.
func (r *Registry) ByCategory() map[string][]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Handler)
	for _, h := range r.handlers {
		out[h.Category()] = append(out[h.Category()], h)
	}
	for _, hs := range out {
		sort.Slice(hs, func(i, j int) bool { return hs[i].Type() < hs[j].Type() })
	}
	return out
}

// Shutdown tears down handlers that hold long-lived resources.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for t, h := range r.handlers {
		s, ok := h.(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown of handler %q failed: %w", t, err)
		}
	}
	return firstErr
}
