package auth

import (
	"context"
	"strconv"
)

type Principal struct {
	UserID int64
	Role   string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports the authenticated principal, ok=false for
// anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID > 0
}

// UserIDFromContext returns the decimal user id, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return strconv.FormatInt(p.UserID, 10)
	}
	return ""
}
