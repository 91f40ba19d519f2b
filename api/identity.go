package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ticktalk/balance-engine/ledger"
)

// Identity headers are set by the authenticating proxy in front of the
// service.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// Identity rejects requests without a valid actor and stores the actor in
// the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		role := ledger.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		if id == "" || !role.Valid() {
			writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, ledger.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the actor stored by Identity.
func ActorFrom(ctx context.Context) ledger.Actor {
	a, _ := ctx.Value(actorKey{}).(ledger.Actor)
	return a
}
