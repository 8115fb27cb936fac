package ops

import (
	"context"
	"encoding/json"
)

// permissionsContextKey is the context key for the caller's permission
// set.
type permissionsContextKey struct{}

// WithPermissions attaches the caller's opaque permission set to the
// context. The dispatcher calls this before invoking a handler; the
// permission set is never stored in dispatcher state.
func WithPermissions(ctx context.Context, perms json.RawMessage) context.Context {
	if len(perms) == 0 {
		return ctx
	}
	return context.WithValue(ctx, permissionsContextKey{}, perms)
}

// Permissions returns the caller's permission set from the context, nil
// when the call carries none.
func Permissions(ctx context.Context) json.RawMessage {
	if p, ok := ctx.Value(permissionsContextKey{}).(json.RawMessage); ok {
		return p
	}
	return nil
}
