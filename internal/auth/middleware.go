package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kuitang/notedly/internal/errs"
	"github.com/kuitang/notedly/internal/obs"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID string
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	if actor == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, actorKey, actor)
	return obs.WithActorID(ctx, actor.UserID)
}

// ActorFrom returns the request actor, or nil for anonymous requests.
func ActorFrom(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey).(*Actor)
	return actor
}

// Middleware derives the actor from the Authorization header. Requests
// without a header continue anonymously; a present but invalid token is
// rejected with 401 before any handler runs.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			obs.From(r.Context()).Info("auth_rejected", "reason", "invalid_token")
			writeUnauthenticated(w, errs.MessageOf(err))
			return
		}
		if actor != nil {
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthenticated(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]string{"code": errs.GraphQLCode(errs.Unauthenticated)},
		}},
	})
}
