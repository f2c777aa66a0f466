package rbac

import (
	"encoding/json"
	"net/http"
)

// Require admits the request when the caller's role holds any of perms
// under the default policy.
func Require(perms ...string) func(http.Handler) http.Handler {
	return RequireWith(Default, perms...)
}

func RequireWith(p Policy, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !p.Grants(RoleFromContext(r.Context()), perms...) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
