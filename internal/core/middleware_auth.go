package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"clubhouse/internal/types"
)

// AdminKeyHeader carries the admin key. A Bearer Authorization header is
// accepted as well.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuthMiddleware rejects requests that do not present the configured
// admin key.
//   - auth_token_missing: no key in either header.
//   - auth_token_invalid: key does not match.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	expected := []byte(s.AdminKey.Unmask())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := presentedKey(r)
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "admin key is required", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			s.Logger.WarnContext(r.Context(), "admin key rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(AdminKeyHeader)); key != "" {
		return key
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// extractBearerToken returns the token from "Bearer <token>", or "".
func extractBearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
