package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
)

type actorKey struct{}

// RequireActor turns the identity headers into a domain.Actor on the
// request context. Requests without both headers are rejected.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		}
		if !actor.Valid() {
			httputil.Error(w, http.StatusUnauthorized, "missing "+HeaderUserID+" or "+HeaderTenantID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the actor RequireActor stored on ctx.
func ActorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}

// RequireBearer guards provider webhooks with a shared token.
func RequireBearer(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
