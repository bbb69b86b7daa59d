package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Middleware returns HTTP middleware that requires the API key in header.
// Pass-through when mode != "apikey" or key == "". A missing or wrong key is
// answered with 401 and a JSON error body.
func Middleware(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !matches(r.Header.Get(header), key) {
				slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "missing or invalid api key",
					"kind":  "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func enabled(mode, key string) bool {
	return mode == "apikey" && key != ""
}

func matches(presented, key string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}
