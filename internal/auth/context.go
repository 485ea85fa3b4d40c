package auth

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the resolved session to the context.
func ContextWithSession(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &sc)
}

// SessionFromContext extracts the resolved session from the context.
func SessionFromContext(ctx context.Context) (SessionContext, bool) {
	if ctx == nil {
		return SessionContext{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*SessionContext)
	if !ok || v == nil {
		return SessionContext{}, false
	}
	return *v, true
}
