package middleware

import (
	"net/http"
	"strings"

	"roomchat/backend/internal/platform/httpjson"
	"roomchat/backend/internal/security"
)

const bearerPrefix = "bearer "

// AccessValidator validates an access token. *security.TokenProvider satisfies it.
type AccessValidator interface {
	ValidateAccess(token string) (security.Principal, error)
}

// Authenticate returns middleware that requires a valid Bearer access token and stores the
// caller in the request context. Missing or invalid tokens get 401.
func Authenticate(tokens AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				httpjson.Unauthorized(w, "missing or invalid authorization")
				return
			}
			p, err := tokens.ValidateAccess(token)
			if err != nil {
				httpjson.Unauthorized(w, "missing or invalid authorization")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
