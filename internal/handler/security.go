package handler

import (
	"net/http"

	"github.com/taazabazar/coupon-engine/internal/domain/auth"
)

// RequireAPIKey guards the admin surface. The api_key header is hashed with
// the peppered HMAC, looked up, compared in constant time, and finally
// checked for the admin scope. A valid key without the scope gets 403, every
// other failure 401.
func RequireAPIKey(apikeys auth.Repository, pepper []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, "api key required")
				return
			}

			hash := auth.HashKey(pepper, key)
			info, err := apikeys.FindByHash(r.Context(), hash)
			if err != nil || !info.Matches(hash) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(auth.ScopeAdmin) {
				writeError(w, http.StatusForbidden, "admin scope required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
