package methodologies

import (
	"ogcr-registry/internal/infrastructure/methodology"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Registry *methodology.Registry
}

// List GET /api/v1/methodologies
func (h *Handlers) List(c *fiber.Ctx) error {
	items, err := h.Registry.List(c.UserContext())
	if err != nil {
		return err
	}
	return response.Success(c, "Methodologies fetched successfully", items, nil)
}

// Resolve GET /api/v1/methodologies/:id/:version
func (h *Handlers) Resolve(c *fiber.Ctx) error {
	res, err := h.Registry.Resolve(c.UserContext(), c.Params("id"), c.Params("version"))
	if err != nil {
		return err
	}
	return response.Success(c, "Methodology resolved", res, nil)
}
