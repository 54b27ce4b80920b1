package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// RequireHS256 rejects requests without a valid bearer token. An empty secret
// disables the check.
func RequireHS256(secret string, next http.Handler) http.Handler {
	if strings.TrimSpace(secret) == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := ParseAndVerifyHS256(strings.TrimSpace(raw), secret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// AllowsBusiness reports whether the caller may act on businessID. Requests that
// carry no claims (auth disabled) are allowed.
func AllowsBusiness(ctx context.Context, businessID string) bool {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return true
	}
	return c.BusinessID == businessID
}
