package middleware

import (
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AuthorizePermission checks the actor's roles against PermissionRoles before the
// handler runs. Ownership rules are still enforced by the engine.
// Unconfigured permission -> 500 "Permission configuration error"; no role allowed -> 403.
func AuthorizePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := GetActor(c)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		roles, ok := constants.PermissionRoles[permission]
		if !ok || len(roles) == 0 {
			return response.Error(c, "Permission configuration error", fiber.StatusInternalServerError, nil)
		}
		if !constants.AllowedAny(permission, actor.Roles) {
			return response.KindError(c, string(domain.ForbiddenError), "Actor is forbidden from performing this action",
				fiber.StatusForbidden, fiber.Map{"permission": permission, "actor_id": actor.ID})
		}
		return c.Next()
	}
}
