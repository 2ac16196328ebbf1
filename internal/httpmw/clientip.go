package httpmw

import (
	"context"
	"net/http"
	"strings"
)

// UnknownClient is the key used when a request carries no client address
// headers.
const UnknownClient = "unknown"

type clientKeyKey struct{}

// ResolveClientKey returns the identity used to partition per-client state:
// the first X-Forwarded-For entry, else X-Real-IP, else UnknownClient.
// Both headers are trimmed and a blank value counts as absent, so an empty
// key is never returned. Values are not validated as IP addresses. Deployments must run behind a
// proxy that overwrites these headers, otherwise clients can pick their key.
func ResolveClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return UnknownClient
}

// ClientKey stores the resolved client key in the request context for
// logging and downstream handlers.
func ClientKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientKey(r.Context(), ResolveClientKey(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientKeyFromContext returns the key stored by ClientKey, or "".
func ClientKeyFromContext(ctx context.Context) string {
	k, _ := ctx.Value(clientKeyKey{}).(string)
	return k
}

func WithClientKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKeyKey{}, key)
}
