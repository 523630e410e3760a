package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Authenticator resolves bearer tokens into actors.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (shared.Actor, error)
}

// RequireToken rejects requests without a valid bearer token and stores the
// resolved actor in the request context.
func RequireToken(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="costing"`)
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			actor, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrTokenRevoked), errors.Is(err, shared.ErrInvalidCredentials):
					w.Header().Set("WWW-Authenticate", `Bearer realm="costing", error="invalid_token"`)
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				default:
					if logger != nil {
						logger.Error("authenticate token", slog.Any("error", err))
					}
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
