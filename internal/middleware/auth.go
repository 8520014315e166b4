package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// Keys maps API keys to caller identities.
	Keys map[string]string
}

// NewAuthMiddleware resolves the caller identity from X-API-Key or a Bearer
// token. Requests without a key pass through anonymously; an unknown key is
// rejected. Use RequireCaller on routes that need an identity.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := make(map[string]string, len(cfg.Keys))
	for k, v := range cfg.Keys {
		keys[k] = v
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, ok := lookupKey(keys, apiKey)
			if !ok {
				response.Error(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), identity)))
		})
	}
}

// RequireCaller rejects anonymous requests.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetCaller(r.Context()) == "" {
			response.Error(w, apierror.Unauthorized("Authentication required. Use X-API-Key header."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lookupKey compares against every key in constant time.
func lookupKey(keys map[string]string, apiKey string) (string, bool) {
	var identity string
	found := false
	for key, id := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			identity, found = id, true
		}
	}
	return identity, found
}
