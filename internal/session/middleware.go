package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type claimsKey struct{}

// FromContext returns the session claims attached by Middleware, or nil.
func FromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// NewContext returns ctx carrying claims.
func NewContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromRequest verifies the session cookie on r.
func FromRequest(tokens *TokenService, cookieName string, r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return tokens.Validate(cookie.Value)
}

// Middleware attaches the session claims to the request context when the
// cookie verifies. It never rejects a request; handlers that need a session
// check FromContext themselves.
func Middleware(tokens *TokenService, cookieName string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromRequest(tokens, cookieName, r)
			switch {
			case err == nil:
				r = r.WithContext(NewContext(r.Context(), claims))
			case !errors.Is(err, ErrNoSession):
				logger.Debug("session cookie rejected",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
