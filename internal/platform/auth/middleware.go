package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
)

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason = "unauthorized"
			}
			m.logDeny(r, reason, err)
			httpserver.WriteError(w, r, http.StatusUnauthorized, reason)
			return
		}

		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) logDeny(r *http.Request, reason string, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("auth deny",
		"reason", reason,
		"status", http.StatusUnauthorized,
		"request_id", r.Header.Get(httpserver.RequestIDHeader),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	)
}
