package retirements

import (
	retsvc "ogcr-registry/internal/application/retirements"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *retsvc.Service
}

// List GET /api/v1/retirements: certificates of the caller (admins may pass ?owner=).
func (h *Handlers) List(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	owner, err := httpx.OwnerScope(c, actor)
	if err != nil {
		return err
	}
	page := httpx.Page(c)
	items, total, err := h.Service.ListByOwner(c.UserContext(), owner, page)
	if err != nil {
		return err
	}
	return httpx.Paginated(c, "Retirement certificates fetched successfully", items, len(items), total, page)
}

// ViewOne GET /api/v1/retirements/:id
func (h *Handlers) ViewOne(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	cert, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Retirement certificate fetched successfully", cert, nil)
}

// ForCredit GET /api/v1/credits/:id/certificate
func (h *Handlers) ForCredit(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	cert, err := h.Service.ByToken(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Retirement certificate fetched successfully", cert, nil)
}
