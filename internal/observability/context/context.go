package context

import (
	stdctx "context"
	"strings"
)

type (
	requestIDKey struct{}
	tenantIDKey  struct{}
	actorKey     struct{}
	runIDKey     struct{}
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	return stdctx.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdctx.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithTenantID(ctx stdctx.Context, tenantID string) stdctx.Context {
	return stdctx.WithValue(ctx, tenantIDKey{}, strings.TrimSpace(tenantID))
}

func TenantIDFromContext(ctx stdctx.Context) string {
	value, _ := ctx.Value(tenantIDKey{}).(string)
	return value
}

func WithActor(ctx stdctx.Context, actorType, actorID string) stdctx.Context {
	return stdctx.WithValue(ctx, actorKey{}, actor{kind: actorType, id: actorID})
}

func ActorFromContext(ctx stdctx.Context) (string, string) {
	value, _ := ctx.Value(actorKey{}).(actor)
	return value.kind, value.id
}

// WithRunID tags work done on behalf of one scheduled worker run.
func WithRunID(ctx stdctx.Context, runID string) stdctx.Context {
	return stdctx.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx stdctx.Context) string {
	value, _ := ctx.Value(runIDKey{}).(string)
	return value
}
