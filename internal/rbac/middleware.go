package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware guards routes with costing permissions. Permission names are
// compared case-insensitively.
type Middleware struct {
	Service PermissionSource
	Logger  *slog.Logger
}

type grantsKey struct{}

type match int

const (
	matchAny match = iota
	matchAll
)

// RequireAny admits the actor when at least one permission is granted.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(matchAny, perms)
}

// RequireAll admits the actor only when every permission is granted.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(matchAll, perms)
}

func (m Middleware) require(mode match, perms []string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok || actor.UserID == 0 {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			ctx, grants, err := m.grants(r.Context(), actor.UserID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac lookup", slog.Int64("user_id", actor.UserID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			missing := missingPermissions(grants, required)
			allowed := len(missing) == 0
			if mode == matchAny {
				allowed = len(missing) < len(required)
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission: "+strings.Join(missing, ", "))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// grants loads the actor's permission set once per request.
func (m Middleware) grants(ctx context.Context, userID int64) (context.Context, map[string]struct{}, error) {
	if set, ok := ctx.Value(grantsKey{}).(map[string]struct{}); ok {
		return ctx, set, nil
	}
	granted, err := m.Service.EffectivePermissions(ctx, userID)
	if err != nil {
		return ctx, nil, err
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return context.WithValue(ctx, grantsKey{}, set), set, nil
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func missingPermissions(granted map[string]struct{}, required []string) []string {
	var missing []string
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
