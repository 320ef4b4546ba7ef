package auth

import "context"

type contextKey struct{}

// Identity is the caller of the local API.
type Identity struct {
	UserID        string
	Authenticated bool
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserID returns the diary owner bound to ctx, or "" when none is set.
func UserID(ctx context.Context) string {
	id, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return id.UserID
}

func IsAuthenticated(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.Authenticated
}
