package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// IngestAuth guards the routes that change a session: creation, deletion,
// mutation intake and the oracle side channel. Viewers only read and need
// no credentials. A zero IngestAuth lets everything through.
type IngestAuth struct {
	digest []byte
}

// NewIngestAuth requires "Authorization: Bearer <token>" on guarded routes.
// An empty token disables the check.
func NewIngestAuth(token string) IngestAuth {
	if token == "" {
		return IngestAuth{}
	}
	sum := sha256.Sum256([]byte(token))
	return IngestAuth{digest: sum[:]}
}

// Enabled reports whether a token is required.
func (a IngestAuth) Enabled() bool { return a.digest != nil }

// Middleware rejects requests without the ingest token.
func (a IngestAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !a.valid(token) {
			RecordConnectionRejected("auth")
			w.Header().Set("WWW-Authenticate", `Bearer realm="ingest"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a IngestAuth) valid(token string) bool {
	sum := sha256.Sum256([]byte(token))
	return hmac.Equal(sum[:], a.digest)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// secureEqual compares two secrets in constant time.
func secureEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return hmac.Equal(da[:], db[:])
}
