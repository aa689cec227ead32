package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"linesync/internal/api"
)

const authRealm = `Bearer realm="linesync"`

// authMiddleware guards the HTTP API with the paths.api_token bearer token.
// An empty token leaves the API open.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(given) == "" {
			denyRequest(w, "missing bearer token; send the paths.api_token value")
			return
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			denyRequest(w, "bearer token does not match paths.api_token")
			return
		}
		next(w, r)
	}
}

func denyRequest(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", authRealm)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message})
}
