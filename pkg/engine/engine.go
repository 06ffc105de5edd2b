package engine

import (
	"context"
	"fmt"
	"log/slog"
)

const logPrefix = "engine:dispatch"

// successMessage confirms a completed execution to the caller.
const successMessage = "Service executed"

// TypeResolver maps a logical service name to a registered value. The
// returned value may or may not carry the service capability; Detect decides.
type TypeResolver interface {
	Resolve(name string) (interface{}, bool)
}

// PermissionManager decides whether a principal may invoke a service,
// identified by its stable identifier.
type PermissionManager interface {
	CanAccess(identifier string, principal Principal) bool
}

// Engine is the command orchestrator: it sequences name resolution,
// capability detection, authorization, wrapper-cache lookup and invocation,
// and builds the result envelope. The wrapper cache is the engine's only
// shared mutable state.
type Engine struct {
	resolver    TypeResolver
	permissions PermissionManager
	cache       *invokerCache
}

// New creates an Engine over the given resolver and permission manager.
func New(resolver TypeResolver, permissions PermissionManager) *Engine {
	return &Engine{
		resolver:    resolver,
		permissions: permissions,
		cache:       newInvokerCache(),
	}
}

// Dispatch executes one command: rawInput is decoded as an ArgumentEnvelope
// with the input codec, the named service is resolved, validated and
// authorized, and its invocation wrapper is run. Every classified failure is
// surfaced as a result envelope; the returned error is non-nil only for
// security-classified failures, which propagate unchanged to the caller's
// trust boundary.
func (e *Engine) Dispatch(ctx context.Context, loc Locator, in, out Codec, principal Principal, rawInput []byte) (*ResultEnvelope, error) {
	var req ArgumentEnvelope
	if err := in.Unmarshal(rawInput, &req); err != nil {
		return failure(
			fmt.Sprintf("failed to deserialize request envelope: %v", err),
			exampleHint(out),
		), nil
	}

	slog.Debug(fmt.Sprintf("%s - service=%s principal=%s", logPrefix, req.Name, principal.Name))

	registered, ok := e.resolver.Resolve(req.Name)
	if !ok {
		return failure(
			fmt.Sprintf("Couldn't find service: %s", req.Name),
			exampleHint(out),
		), nil
	}

	binding, ok := Detect(registered)
	if !ok {
		return failure(
			fmt.Sprintf("%s is not a valid service", req.Name),
			"services must implement the Service[Argument, Result] capability\n"+exampleHint(out),
		), nil
	}

	// Authorization happens strictly after capability validation and
	// strictly before invocation, so unknown, malformed and forbidden
	// services stay distinguishable outcomes.
	if !e.permissions.CanAccess(binding.Identifier(), principal) {
		slog.Info(fmt.Sprintf("%s - denied service=%s principal=%s", logPrefix, binding.Identifier(), principal.Name))
		return &ResultEnvelope{Status: StatusForbidden, Message: req.Name}, nil
	}

	// The cache key is the resolved binding, so versioned references that
	// resolve to different registrations of the same identifier each keep
	// their own wrapper.
	invoker, ok := e.cache.lookup(binding)
	if !ok {
		invoker = e.cache.publish(binding, binding.NewInvoker())
	}

	payload, err := invoker.Execute(ctx, in, out, loc, req.Data)
	if err != nil {
		if isSecurity(err) {
			return nil, err
		}
		return failure(err.Error(), explain(err)+"\n"+exampleHint(out)), nil
	}

	return &ResultEnvelope{Status: StatusCreated, Payload: payload, Message: successMessage}, nil
}
