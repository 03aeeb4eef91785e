// Package requestcontext provides context accessors for values scoped to
// one message's processing.
//
// The bus consumer sets the values when a need is accepted; every log line
// on the processing path reads them back. Keeping the package free of
// transport dependencies lets the engine and clients import only what
// they need.
//
// Usage on the processing path (read values):
//
//	needID := requestcontext.NeedID(ctx)
//	correlationID := requestcontext.CorrelationID(ctx)
//
// Usage when accepting a message (set values):
//
//	ctx = requestcontext.WithNeedID(ctx, env.ID)
//	ctx = requestcontext.WithCorrelationID(ctx, env.CorrelationID)
//
// Because the values live on a per-message context, they vanish with it on
// every exit path; nothing can leak across messages.
package requestcontext

import "context"

// Context key types (unexported for encapsulation).
type (
	needIDKey        struct{}
	correlationIDKey struct{}
	capabilityKey    struct{}
)

// NeedID retrieves the need's request id from the context. Returns the
// empty string if not set.
func NeedID(ctx context.Context) string {
	if v, ok := ctx.Value(needIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithNeedID injects the need's request id into the context.
func WithNeedID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, needIDKey{}, id)
}

// CorrelationID retrieves the business case id from the context. Returns
// the empty string if not set.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID injects the business case id into the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// Capability retrieves the capability being resolved from the context.
func Capability(ctx context.Context) string {
	if v, ok := ctx.Value(capabilityKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCapability injects the capability being resolved into the context.
func WithCapability(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, capabilityKey{}, name)
}
