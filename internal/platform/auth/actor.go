package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStandard      Role = "standard"
	RoleAdministrator Role = "administrator"
)

func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdministrator
}

// Actor is the authenticated caller of a request.
type Actor struct {
	ID     uuid.UUID
	Role   Role
	Active bool
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdministrator
}

type contextKey string

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
