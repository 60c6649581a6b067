package health

import (
	"ogcr-registry/internal/health"

	"github.com/gofiber/fiber/v2"
)

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	Service *health.Service
}

// JSON GET /health: 200 when every dependency answers, 503 otherwise.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	res := h.Service.Collect(c.UserContext())
	code := fiber.StatusOK
	if res.Status != health.StatusOK {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service":      "ogcr-registry",
		"status":       res.Status,
		"runtime":      res.Runtime,
		"dependencies": res.Dependencies,
	})
}
