package httpapi

import (
	"net/http"
	"strings"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/apperr"
	"github.com/Overland-East-Bay/ride-live-api/internal/app/realtime"
)

// NewAuthMiddleware enforces Authorization: Bearer <token> on the REST routes.
//
// On success, it stores the resolved identity in request context.
func NewAuthMiddleware(resolver realtime.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, string(apperr.CodeUnauthenticated), "missing or malformed Authorization header", nil)
				return
			}

			who, err := resolver.Resolve(r.Context(), raw)
			if err != nil {
				ae := apperr.As(err)
				if ae.Code == apperr.CodeStoreUnavailable {
					writeError(w, r, http.StatusServiceUnavailable, string(ae.Code), ae.Message, nil)
					return
				}
				writeError(w, r, http.StatusUnauthorized, string(apperr.CodeUnauthenticated), "invalid token", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(authz) < len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(authz[len(prefix):])
	return raw, raw != ""
}
