package orchestrator

import (
	"context"

	"github.com/sherwood-labs/signalcore/tracing"
)

// contextKey is a private type for context keys to avoid collisions.
// These keys must match the ones used by the API audit middleware.
type contextKey string

const (
	// auditIPKey is the context key for the requestor's IP address.
	auditIPKey contextKey = "audit_ip"
	// auditKeyIDKey is the context key for the API key identifier.
	auditKeyIDKey contextKey = "audit_key_id"
)

// auditIPFromCtx extracts the requestor IP from context.
// Returns "unknown" if not present.
func auditIPFromCtx(ctx context.Context) string {
	if ip, ok := ctx.Value(auditIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// auditKeyIDFromCtx extracts the API key identifier from context.
// Returns "unknown" if not present.
func auditKeyIDFromCtx(ctx context.Context) string {
	if keyID, ok := ctx.Value(auditKeyIDKey).(string); ok {
		return keyID
	}
	return "unknown"
}

// NewPipelineContext creates a context with audit fields and a trace ID
// for orchestrator-initiated pipeline runs, distinguishing automated
// signal processing from manual API-triggered actions.
//
// Each pipeline context receives a unique trace ID so that all log
// entries and downstream operations for the same signal's pass through
// the pipeline can be correlated.
func NewPipelineContext() context.Context {
	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	ctx = context.WithValue(ctx, auditIPKey, "orchestrator")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	return ctx
}

// NewPipelineContextWithTrace creates a context with audit fields and
// a pre-existing trace ID. Use this when the caller already has a
// trace ID (e.g., from a worker tick) that should be propagated to
// child operations.
//
// Args:
//   - parentCtx: Parent context containing trace ID
//
// Returns:
//   - context.Context: Context with orchestrator audit fields and inherited trace ID
func NewPipelineContextWithTrace(parentCtx context.Context) context.Context {
	ctx := parentCtx
	ctx = context.WithValue(ctx, auditIPKey, "orchestrator")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	return ctx
}
