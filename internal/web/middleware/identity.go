package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/logging"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserLabel = "X-User-Label"
	HeaderUserRole  = "X-User-Role"
)

var errMissingIdentity = errors.New("missing user identity")

// Identity resolves the caller from gateway headers and attaches it to the
// request context for handlers and logging. Requests without X-User-ID are
// rejected with 401. Any role other than "admin" is a regular user, and the
// label falls back to the id.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			reject(w, r, http.StatusUnauthorized, errMissingIdentity)
			return
		}

		actor := core.Actor{
			ID:    id,
			Label: strings.TrimSpace(r.Header.Get(HeaderUserLabel)),
			Role:  core.RoleUser,
		}
		if actor.Label == "" {
			actor.Label = id
		}
		if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(core.RoleAdmin)) {
			actor.Role = core.RoleAdmin
		}

		ctx := core.ContextWithActor(r.Context(), actor)
		ctx = logging.ContextWithFields(ctx, "actor_id", actor.ID, "actor_role", string(actor.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
