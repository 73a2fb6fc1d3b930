package middleware

import (
	"context"
	"errors"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"
	"fixit/internal/services"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	claimsContextKey = "token_claims"
	actorContextKey  = "actor"
	userContextKey   = "user"
)

// TokenParser is the part of services.AuthService the JWT middleware needs.
type TokenParser interface {
	ParseAccessToken(raw string) (*services.TokenClaims, error)
}

// JWTMiddleware validates the bearer token and stores its claims on the
// echo context. Signature, kid, issuer and expiry are checked by the parser.
func JWTMiddleware(parser TokenParser) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  claimsContextKey,
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			return parser.ParseAccessToken(auth)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			var extractErr *echojwt.TokenExtractionError
			if errors.As(err, &extractErr) {
				return common.Unauthenticated("authentication required")
			}
			return common.Unauthenticated("invalid or expired token")
		},
	})
}

// ActorLoader resolves the token subject to a live user. Deactivated,
// unverified and synthetic accounts are rejected even with a valid token.
func ActorLoader(store repositories.Store, logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(claimsContextKey).(*services.TokenClaims)
			if !ok {
				return common.Unauthenticated("authentication required")
			}
			subject := claims.UserID
			if subject == "" {
				subject = claims.Subject
			}
			userID, err := uuid.Parse(subject)
			if err != nil {
				return common.Unauthenticated("invalid token subject")
			}

			ctx := c.Request().Context()
			user, err := store.Repos().Users.GetByID(ctx, userID)
			if err != nil {
				if common.KindOf(err) == common.KindNotFound {
					return common.Unauthenticated("account no longer exists")
				}
				logger.WithError(err).WithField("user_id", userID).Error("failed to load actor")
				return err
			}
			if err := services.SessionAllowed(user); err != nil {
				return err
			}

			c.Set(userContextKey, user)
			c.Set(actorContextKey, authz.ActorFor(user))
			c.SetRequest(c.Request().WithContext(context.WithValue(ctx, common.UserIDKey, user.ID)))
			return next(c)
		}
	}
}

// ActorFrom returns the authenticated actor set by ActorLoader.
func ActorFrom(c echo.Context) (authz.Actor, error) {
	actor, ok := c.Get(actorContextKey).(authz.Actor)
	if !ok {
		return authz.Actor{}, common.Unauthenticated("authentication required")
	}
	return actor, nil
}

// UserFrom returns the authenticated user record.
func UserFrom(c echo.Context) (*models.User, error) {
	user, ok := c.Get(userContextKey).(*models.User)
	if !ok {
		return nil, common.Unauthenticated("authentication required")
	}
	return user, nil
}
