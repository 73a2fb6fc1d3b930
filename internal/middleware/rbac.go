package middleware

import (
	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/labstack/echo/v4"
)

// RequireRole guards routes that are decided by global role alone, such as
// the audit log. Property-scoped checks go through the authorization resolver.
func RequireRole(roles ...models.GlobalRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := ActorFrom(c)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if actor.Role == role {
					return next(c)
				}
			}
			return common.Forbidden("insufficient role")
		}
	}
}
