package auth

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
)

// Identify resolves a bearer token into a Principal. Requests without an
// Authorization header pass through anonymous; a present but invalid token
// is answered with 401 so clients notice expired sessions. onFail, if set,
// receives the failure class.
func Identify(tokens *Tokens, onFail func(reason string)) httpmw.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := bearerToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			p, err := tokens.Parse(raw)
			if err != nil {
				if onFail != nil {
					onFail("invalid_token")
				}
				log.FromContext(ctx).Warn(ctx, "bearer token rejected", "reason", err.Error())
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				httpmw.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			ctx = WithPrincipal(ctx, p)
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("user.id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token and whether an Authorization header was
// sent at all. A non-bearer scheme counts as present with an empty token.
func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(tok), true
}

// RequireUser answers 401 for anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			httpmw.WriteError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole answers 401 for anonymous requests and 403 when the principal
// holds a different role.
func RequireRole(role string) httpmw.Middleware {
	return func(next http.Handler) http.Handler {
		return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if p.Role != role {
				httpmw.WriteError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
