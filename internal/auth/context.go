package auth

import (
	"context"
	"strings"
)

type callerContextKey struct{}

// ContextWithCaller stores the authenticated caller address in the context.
func ContextWithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, strings.TrimSpace(address))
}

// CallerFromContext extracts the authenticated caller address.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(callerContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
