package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal kinds.
const (
	PrincipalUser    = "user"
	PrincipalService = "service"
)

// Principal represents the authenticated identity making the request.
// Service principals authenticate with the configured API key, carry the
// admin role, and have no claims.
type Principal struct {
	Type   string
	Role   model.Role
	Token  string
	Claims *credential.Claims
}

// Subject returns the user ID of a user principal, or "service".
func (p *Principal) Subject() string {
	if p.Claims != nil {
		return p.Claims.Subject
	}
	return p.Type
}

// Authenticator is the credential check used by Authenticate.
type Authenticator interface {
	Validate(ctx context.Context, token string) (*credential.Claims, error)
	ValidateAPIKey(raw string) bool
}

// Authenticate returns an HTTP middleware that validates the request's
// credentials. It supports two methods:
//
//  1. API key via the X-API-Key header (service-to-service callers)
//  2. Bearer token via the Authorization header (users)
//
// On success, a Principal is attached to the request context. On failure a
// JSON error is returned: 401 for a bad credential, 503 when the revocation
// store is down and the server is configured to fail closed.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if !auth.ValidateAPIKey(apiKey) {
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				principal = &Principal{Type: PrincipalService, Role: model.RoleAdmin}
			}

			if principal == nil {
				token := credential.ExtractToken(r.Header.Get("Authorization"))
				if token == "" {
					writeAuthError(w, http.StatusUnauthorized,
						"Authentication required. Provide X-API-Key header or Bearer token.")
					return
				}
				claims, err := auth.Validate(r.Context(), token)
				switch {
				case errors.Is(err, service.ErrUnavailable):
					writeAuthError(w, http.StatusServiceUnavailable, "Credential check temporarily unavailable")
					return
				case errors.Is(err, service.ErrTokenExpired):
					writeAuthError(w, http.StatusUnauthorized, "Token expired")
					return
				case errors.Is(err, service.ErrTokenRevoked):
					writeAuthError(w, http.StatusUnauthorized, "Token revoked")
					return
				case err != nil:
					writeAuthError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				principal = &Principal{Type: PrincipalUser, Role: claims.Role, Token: token, Claims: claims}
			}

			notePrincipal(r.Context(), principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns an HTTP middleware that admits principals holding one
// of roles. It must be used after Authenticate in the middleware chain.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusForbidden, "Insufficient role")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "Insufficient role")
		})
	}
}

// RequireAdmin admits only admins.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(model.RoleAdmin)
}

// RequireStaff admits support, dev and admin.
func RequireStaff() func(http.Handler) http.Handler {
	return RequireRole(model.RoleSupport, model.RoleDev, model.RoleAdmin)
}

// RequireUser rejects service principals on routes that act on the caller's
// own account.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || principal.Claims == nil {
				writeAuthError(w, http.StatusForbidden, "A user credential is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
