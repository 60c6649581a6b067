package middleware

import (
	"errors"
	"strings"

	"ogcr-registry/internal/auth"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const actorLocal = "actor"

// RequireAuth resolves the API key of the request to an actor. Keys are accepted as
// "Authorization: Bearer <key>" or "X-API-Key: <key>". Returns 401 with the standard
// error format if the key is missing or wrong.
func RequireAuth(a auth.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if h := c.Get(fiber.HeaderAuthorization); h != "" {
			scheme, token, ok := strings.Cut(h, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				return response.Unauthorized(c, "Authorization header must use the Bearer scheme")
			}
			key = token
		}
		actor, err := a.Authenticate(c.UserContext(), key)
		if err != nil {
			if isCredentialError(err) {
				return response.Unauthorized(c, err.Error())
			}
			log.Error().Err(err).Str("trace_id", GetTraceID(c)).Msg("authentication failed")
			return response.Error(c, "Authentication error", fiber.StatusInternalServerError, nil)
		}
		c.Locals(actorLocal, *actor)
		return c.Next()
	}
}

// GetActor returns the authenticated actor (false if the route is public).
func GetActor(c *fiber.Ctx) (domain.Actor, bool) {
	a, ok := c.Locals(actorLocal).(domain.Actor)
	return a, ok
}

// SetActor is used by tests and internal callers that authenticate elsewhere.
func SetActor(c *fiber.Ctx, a domain.Actor) {
	c.Locals(actorLocal, a)
}

func isCredentialError(err error) bool {
	for _, e := range []error{auth.ErrMissingKey, auth.ErrMalformedKey, auth.ErrUnknownActor, auth.ErrIncorrectSecret, auth.ErrDisabled} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
