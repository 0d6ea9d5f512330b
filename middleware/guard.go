package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/thisjowi/keyward"
)

// RequireBearer rejects requests without a valid bearer token with 401. The
// verified identity id is stored in the request context; read it with
// [keyward.IdentityIDFromContext].
func RequireBearer(engine *keyward.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			id, ok := engine.VerifyBearer(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(keyward.WithIdentityID(r.Context(), id)))
		})
	}
}

// Protect applies RateLimit and then RequireBearer.
func Protect(engine *keyward.Engine) func(http.Handler) http.Handler {
	limit, guard := RateLimit(engine), RequireBearer(engine)
	return func(next http.Handler) http.Handler {
		return limit(guard(next))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
