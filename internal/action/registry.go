package action

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/scenebridge/scenebridge/pkg/protocol"
)

var ErrUnknownAction = errors.New("unknown action")

// Handler is the pluggable implementation behind one action identifier.
// Validate checks parameter structure only; Execute performs the action and
// may block on I/O, honoring ctx for cancellation.
type Handler interface {
	Validate(params protocol.Payload) bool
	Execute(ctx context.Context, params protocol.Payload) (protocol.ActionResult, error)
}

// Descriptor declares an action's identity and what a caller needs to hold
// before its handler runs. Params optionally carries a zero value of the
// handler's parameter struct so the introspection API can publish a schema.
type Descriptor struct {
	ActionID            string
	RequiredPermissions []string
	Params              any
}

type registration struct {
	desc    Descriptor
	handler Handler
}

// Registry maps action identifiers to handlers. First registration wins;
// duplicates are logged and ignored rather than treated as errors, so static
// built-ins can coexist with dynamically discovered sets.
type Registry struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	entries map[string]registration
	order   []string
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]registration),
	}
}

// Register binds a handler to the descriptor's action id. Re-registering an
// existing id is a no-op.
func (r *Registry) Register(desc Descriptor, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.ActionID]; exists {
		r.logger.Warn("duplicate action registration ignored", "action", desc.ActionID)
		return
	}
	r.entries[desc.ActionID] = registration{desc: desc, handler: handler}
	r.order = append(r.order, desc.ActionID)
	r.logger.Info("action registered", "action", desc.ActionID, "permissions", desc.RequiredPermissions)
}

// Lookup resolves an action id to its descriptor and handler.
func (r *Registry) Lookup(actionID string) (Descriptor, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[actionID]
	if !ok {
		return Descriptor{}, nil, false
	}
	return reg.desc, reg.handler, true
}

// List returns the registered action ids in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptors returns all descriptors in registration order, for the
// introspection surface.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}
