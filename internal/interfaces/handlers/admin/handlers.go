package admin

import (
	"ogcr-registry/internal/application/registry"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Registry *registry.Registry
}

// Reconcile POST /api/v1/admin/reconcile?limit= re-anchors versions left pending.
func (h *Handlers) Reconcile(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	res, err := h.Registry.Reconcile(c.UserContext(), actor, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return response.Success(c, "Reconciliation finished", res, nil)
}

// Pending GET /api/v1/admin/pending?limit= lists versions waiting for the ledger.
func (h *Handlers) Pending(c *fiber.Ctx) error {
	versions, err := h.Registry.Documents.Pending(c.UserContext(), httpx.Page(c).Limit)
	if err != nil {
		return err
	}
	return response.Success(c, "Pending versions fetched successfully", versions, fiber.Map{"count": len(versions)})
}
