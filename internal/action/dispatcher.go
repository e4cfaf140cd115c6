package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scenebridge/scenebridge/internal/auth"
	"github.com/scenebridge/scenebridge/pkg/protocol"
)

const DefaultExecuteTimeout = 30 * time.Second

// Dispatcher validates, authorizes, and executes action envelopes. The
// pipeline order is fixed: API key, registry lookup, permissions, parameter
// validation, execution. Unauthorized callers must not be able to tell
// whether an action exists or whether their parameters were well-formed, so
// do not reorder these steps.
type Dispatcher struct {
	registry       *Registry
	permissions    *auth.PermissionManager
	apiKey         string
	executeTimeout time.Duration
	logger         *slog.Logger
}

func NewDispatcher(registry *Registry, permissions *auth.PermissionManager, apiKey string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		permissions:    permissions,
		apiKey:         apiKey,
		executeTimeout: DefaultExecuteTimeout,
		logger:         logger,
	}
}

// SetExecuteTimeout bounds how long a single handler execution may run. A
// non-positive value keeps the default.
func (d *Dispatcher) SetExecuteTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.executeTimeout = timeout
	}
}

// Dispatch runs one envelope through the pipeline and always returns a
// result; handler errors and panics are converted, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, callerID string, env protocol.Envelope) protocol.ActionResult {
	if env.Category != protocol.CategorySystem {
		if !auth.VerifyAPIKey(env.APIKey, d.apiKey) {
			d.logger.Warn("rejected envelope with bad api key", "caller", callerID, "action", env.Action)
			return protocol.Fail("Invalid API key")
		}
	}

	desc, handler, ok := d.registry.Lookup(env.Action)
	if !ok {
		return protocol.Fail(fmt.Sprintf("Unknown action: %s", env.Action))
	}

	for _, permission := range desc.RequiredPermissions {
		if !d.permissions.Has(callerID, permission) {
			d.logger.Warn("caller lacks permission", "caller", callerID, "action", env.Action, "permission", permission)
			return protocol.Fail("Insufficient permissions")
		}
	}

	if !handler.Validate(env.Payload) {
		return protocol.Fail("Invalid parameters")
	}

	return d.execute(ctx, callerID, env.Action, handler, env.Payload)
}

// execute runs the handler on its own goroutine so a hung handler cannot
// stall the dispatch loop past the configured timeout.
func (d *Dispatcher) execute(ctx context.Context, callerID, actionID string, handler Handler, params protocol.Payload) protocol.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, d.executeTimeout)
	defer cancel()

	done := make(chan protocol.ActionResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("handler panicked", "action", actionID, "panic", rec)
				done <- protocol.Fail(fmt.Sprintf("%v", rec))
			}
		}()
		result, err := handler.Execute(ctx, params)
		if err != nil {
			d.logger.Error("handler failed", "action", actionID, "caller", callerID, "error", err)
			done <- protocol.Fail(err.Error())
			return
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		d.logger.Error("handler timed out", "action", actionID, "caller", callerID)
		return protocol.Fail("action timed out")
	}
}
