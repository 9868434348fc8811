package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/secureqr/secureqr/internal/auth"
	"github.com/secureqr/secureqr/internal/service"
)

// AdminAuth requires a valid admin bearer token.
func (m *Middleware) AdminAuth(tokenSvc *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, err := m.authenticate(r, tokenSvc)
			switch {
			case errors.Is(err, auth.ErrAdminDisabled):
				writeError(w, http.StatusForbidden, "ADMIN_DISABLED", "Admin operations are not configured")
				return
			case errors.Is(err, errNoToken):
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "The admin token is invalid or expired")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAdmin attaches the admin subject when a valid token is presented
// and otherwise passes the request through unchanged. Handlers check
// IsAdmin for operations that need it conditionally.
func (m *Middleware) OptionalAdmin(tokenSvc *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authed, err := m.authenticate(r, tokenSvc); err == nil {
				r = authed
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAdmin reports whether the request carried a valid admin token.
func IsAdmin(ctx context.Context) bool {
	_, ok := ctx.Value(AdminKey).(string)
	return ok
}

var errNoToken = errors.New("no bearer token")

func (m *Middleware) authenticate(r *http.Request, tokenSvc *auth.TokenService) (*http.Request, error) {
	if !tokenSvc.Enabled() {
		return r, auth.ErrAdminDisabled
	}
	tokenString := bearerToken(r)
	if tokenString == "" {
		return r, errNoToken
	}
	claims, err := tokenSvc.Validate(tokenString)
	if err != nil {
		m.log.Debug().Err(err).Msg("admin token validation failed")
		return r, err
	}

	ctx := context.WithValue(r.Context(), AdminKey, claims.Subject)
	meta := service.RequestMetaFrom(ctx)
	meta.Actor = claims.Subject
	ctx = service.WithRequestMeta(ctx, meta)
	return r.WithContext(ctx), nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
