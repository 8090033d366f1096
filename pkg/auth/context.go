package auth

import (
	"context"
	"errors"
)

type contextKey struct{}

// ErrNoPrincipal is returned when a request context carries no authenticated
// principal.
var ErrNoPrincipal = errors.New("no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// GetTenantID returns the tenant of the context's Principal.
func GetTenantID(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.TenantID, nil
}
