package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/greensec/rtauth"
)

// Authenticator is the part of *rtauth.Engine the guard needs.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*rtauth.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard].
func PrincipalFromContext(ctx context.Context) (*rtauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*rtauth.Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p in ctx the same way Guard does.
func WithPrincipal(ctx context.Context, p *rtauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard authenticates the access token in the Authorization header and
// stores the principal in the request context. Requests without a valid
// token get 401; requests that cannot be checked because the session store
// is down get 503.
func Guard(engine Authenticator, scheme string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w, scheme)
				return
			}

			token, ok := ExtractToken(r.Header.Get("Authorization"), scheme)
			if !ok {
				unauthorized(w, scheme)
				return
			}

			principal, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, rtauth.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				unauthorized(w, scheme)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects requests whose principal lacks role with 403. It must
// be mounted behind Guard.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !p.HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, scheme string) {
	if scheme != "" {
		w.Header().Set("WWW-Authenticate", scheme)
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// ExtractToken returns the credential that follows "<scheme> " in an
// Authorization header value, trimmed of surrounding spaces. It reports
// false when the prefix is absent or nothing follows it.
func ExtractToken(headerValue, scheme string) (string, bool) {
	prefix := scheme + " "
	if scheme == "" || !strings.HasPrefix(headerValue, prefix) {
		return "", false
	}
	token := strings.TrimSpace(headerValue[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// ClientAddress returns the host part of r.RemoteAddr. This is the client
// context used to key sessions; forwarded headers are not consulted.
func ClientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
