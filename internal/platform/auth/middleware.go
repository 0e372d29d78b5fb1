package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
)

// ActorLookup resolves the current state of the account a token was issued
// for, so role changes and deactivation take effect before the token expires.
type ActorLookup interface {
	LookupActor(ctx context.Context, id uuid.UUID) (Actor, error)
}

// Authenticate verifies the bearer token and stores the Actor on the request
// context. Deactivated accounts are rejected here.
func Authenticate(tokens *TokenIssuer, accounts ActorLookup, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return apperr.Unauthenticated("missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return apperr.Unauthenticated("invalid authorization format")
			}

			id, _, err := tokens.Verify(strings.TrimSpace(tokenStr))
			if err != nil {
				return apperr.Unauthenticated("could not validate credentials")
			}

			ctx := c.Request().Context()
			actor, err := accounts.LookupActor(ctx, id)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return apperr.Unauthenticated("could not validate credentials")
				}
				return err
			}
			if !actor.Active {
				return apperr.Deactivated()
			}

			c.Set("actor_id", actor.ID.String())
			c.SetRequest(c.Request().WithContext(WithActor(ctx, actor)))
			return next(c)
		}
	}
}

// RequireCapability rejects requests whose actor may not perform op.
func RequireCapability(op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := AuthorizeContext(c.Request().Context(), op); err != nil {
				return err
			}
			return next(c)
		}
	}
}
