package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"crmdesk.io/internal/audit"
	"crmdesk.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, "No token provided")
			return
		}

		claims, err := a.accounts.Authenticate(r.Context(), token)
		if err != nil {
			unauthorized(w, r, "Invalid token")
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = audit.WithActor(ctx, claims.ID, string(claims.Role()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits only requests whose claims carry role.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	denied := "Admin access required"
	if role == auth.RoleUser {
		denied = "Access denied. Not a user route."
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "No token provided")
				return
			}
			if claims.Role() != role {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="crm"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
