package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// SubjectKey returns the key a request is throttled and profiled under.
func SubjectKey(id *auth.Identity, address, userAgent string) string {
	if id != nil && id.SubjectID != "" {
		return "user:" + id.SubjectID
	}
	sum := sha256.Sum256([]byte(address + "|" + userAgent))
	return "anon:" + hex.EncodeToString(sum[:])[:32]
}

// NormalizeSubject turns an administrative subject identifier into a subject
// key. Identifiers that already carry a "user:" or "anon:" prefix are kept.
func NormalizeSubject(subject string) string {
	if strings.HasPrefix(subject, "user:") || strings.HasPrefix(subject, "anon:") {
		return subject
	}
	return "user:" + subject
}

// ClientAddress returns the client IP. With trustProxy set the first
// X-Forwarded-For hop, then X-Real-IP, take precedence over the socket
// address.
func ClientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
