// Package middleware provides HTTP middlewares for client identification and logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const peerKey ctxKey = "peer"

// PeerIdentity stores the Common Name of a verified client certificate in
// the request context. With required set, requests without a certificate
// are rejected with 401; paths in open are always let through.
func PeerIdentity(required bool, open ...string) func(http.Handler) http.Handler {
	openPaths := make(map[string]struct{}, len(open))
	for _, p := range open {
		openPaths[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
				if _, ok := openPaths[r.URL.Path]; required && !ok {
					http.Error(w, "no client certificate provided", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			cert := r.TLS.PeerCertificates[0]
			ctx := context.WithValue(r.Context(), peerKey, cert.Subject.CommonName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PeerFromContext returns the client certificate Common Name, or "" if none.
func PeerFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(peerKey).(string); ok {
		return s
	}
	return ""
}
