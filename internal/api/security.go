package api

import (
	"net/http"
	"strings"

	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
)

type SecurityConfig struct {
	AllowedOrigins []string        // exact match
	APIKey         string          // optional; if set, requires X-API-Key
	RequireKeyFor  map[string]bool // "METHOD /path" -> require key
}

func SecurityMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	allowed := originSet(cfg.AllowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Accept,X-API-Key,X-Request-ID")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if cfg.APIKey != "" && cfg.RequireKeyFor[r.Method+" "+r.URL.Path] {
			got := r.Header.Get("X-API-Key")
			if !vcrypto.ConstantTimeEqual([]byte(got), []byte(cfg.APIKey)) {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", ""))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func originSet(origins []string) map[string]struct{} {
	out := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out[o] = struct{}{}
		}
	}
	return out
}
