// internal/gateway/identity.go
package gateway

import (
	"net"
	"net/http"
	"strings"

	"datalens-gateway/internal/common/auth"
)

// IdentityResolver derives the rate-limit bucket for a request: a verified
// subject identifier when a valid Bearer token is presented, otherwise a
// network-address bucket. Verification failure is a silent fallback, not an
// error.
type IdentityResolver struct {
	verifier *auth.TokenVerifier
}

func NewIdentityResolver(verifier *auth.TokenVerifier) *IdentityResolver {
	return &IdentityResolver{verifier: verifier}
}

// ResolveBucket returns "user:<subject>" or "ip:<address>".
func (r *IdentityResolver) ResolveBucket(req *http.Request) string {
	if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
		if subject, err := r.verifier.VerifySubject(token); err == nil {
			return "user:" + subject
		}
	}
	return "ip:" + clientIP(req)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// clientIP prefers the first hop of X-Forwarded-For, matching what the edge
// proxy sets, and falls back to the connection's remote address.
func clientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
