package middleware

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/auth"
	"github.com/congo-pay/p2p_market/internal/identity"
)

const (
	localUserID  = "user_id"
	localIsAdmin = "is_admin"
)

// JWTAuth validates bearer access tokens and stores the caller in locals.
func JWTAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		actor, err := svc.Authenticate(c.UserContext(), token)
		if errors.Is(err, auth.ErrInvalidToken) {
			return fiber.NewError(http.StatusUnauthorized, "token invalidated")
		}
		if err != nil {
			return err
		}

		c.Locals(localUserID, actor.UserID)
		c.Locals(localIsAdmin, actor.IsAdmin)
		return c.Next()
	}
}

// ActorFrom returns the caller stored by JWTAuth.
func ActorFrom(c *fiber.Ctx) identity.Actor {
	uid, _ := c.Locals(localUserID).(string)
	admin, _ := c.Locals(localIsAdmin).(bool)
	return identity.Actor{UserID: uid, IsAdmin: admin}
}

// AdminOnly rejects callers without the admin flag. Must run after JWTAuth.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ActorFrom(c).IsAdmin {
			return fiber.NewError(http.StatusForbidden, "admin only")
		}
		return c.Next()
	}
}
