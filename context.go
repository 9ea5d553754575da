package auditry

import (
	"context"
)

type actorKey struct{}
type skipKey struct{}
type pendingKey struct{}

// WithActor attaches the identity of the principal performing the save. Records
// captured for saves under ctx carry it as UserID.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the actor attached with WithActor.
func ActorFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey{}).(string)
	return v, ok && v != ""
}

// WithSkip marks the context so saves under it are not audited.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

func skipped(ctx context.Context) bool {
	if v, ok := ctx.Value(skipKey{}).(bool); ok {
		return v
	}
	return false
}

// withPending attaches the batch captured before commit to the save's own context.
func withPending(ctx context.Context, b *batch) context.Context {
	return context.WithValue(ctx, pendingKey{}, b)
}

func pendingFrom(ctx context.Context) *batch {
	b, _ := ctx.Value(pendingKey{}).(*batch)
	return b
}
