package webui

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when an admin password does not match.
var ErrPasswordMismatch = errors.New("password does not match")

// AdminAuth checks HTTP basic auth on the settings endpoints. The
// configured secret is either a bcrypt hash (starting with "$2") or a
// plaintext password. The username is ignored.
type AdminAuth struct {
	secret string
	hashed bool
}

// NewAdminAuth returns nil when secret is empty, which disables the check.
func NewAdminAuth(secret string) *AdminAuth {
	if secret == "" {
		return nil
	}
	return &AdminAuth{secret: secret, hashed: strings.HasPrefix(secret, "$2")}
}

// Verify compares password against the configured secret.
func (a *AdminAuth) Verify(password string) error {
	if password == "" {
		return ErrPasswordMismatch
	}
	if a.hashed {
		if err := bcrypt.CompareHashAndPassword([]byte(a.secret), []byte(password)); err != nil {
			// Don't expose internal bcrypt errors.
			return ErrPasswordMismatch
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(a.secret), []byte(password)) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// Middleware rejects requests without valid credentials with 401.
// A nil AdminAuth lets everything through.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || a.Verify(password) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="sdqueue", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", "valid admin credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
