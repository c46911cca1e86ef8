// Package auth guards mutating routes with HS256 bearer tokens. With no
// secret configured every request passes through unauthenticated.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"librarium/internal/httpx"
	"librarium/internal/library"
)

// Authenticator validates bearer tokens against a shared secret.
type Authenticator struct {
	secret string
	logger *slog.Logger
}

func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: secret, logger: logger.With("component", "auth")}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool {
	return a.secret != ""
}

// Require returns middleware admitting only callers with a valid token. When
// kinds is non-empty the caller's kind must be one of them.
func (a *Authenticator) Require(kinds ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := ParseBearer(r.Header.Get("Authorization"), a.secret)
			if err != nil {
				a.logger.DebugContext(r.Context(), "token rejected", "path", r.URL.Path, "error", err)
				httpx.WriteError(w, r, a.logger, fmt.Errorf("%w: %v", library.ErrUnauthorized, err))
				return
			}
			if len(kinds) > 0 && !slices.Contains(kinds, p.Kind) {
				httpx.WriteError(w, r, a.logger, fmt.Errorf("%w: %s callers may not do this", library.ErrForbidden, p.Kind))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
