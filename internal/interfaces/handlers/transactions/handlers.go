package transactions

import (
	txsvc "ogcr-registry/internal/application/transactions"
	"ogcr-registry/internal/interfaces/handlers/httpx"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *txsvc.Service
}

// GetTransactions GET /api/v1/transactions?type=&project_id=&limit=&offset=: movements
// the caller took part in (admins may pass ?owner=).
func (h *Handlers) GetTransactions(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	owner, err := httpx.OwnerScope(c, actor)
	if err != nil {
		return err
	}
	projectID, err := httpx.QueryUUID(c, "project_id")
	if err != nil {
		return err
	}
	page := httpx.Page(c)
	items, total, err := h.Service.History(c.UserContext(), txsvc.Filter{
		Owner:     owner,
		ProjectID: projectID,
		Type:      c.Query("type"),
	}, page)
	if err != nil {
		return err
	}
	return httpx.Paginated(c, "Transactions fetched successfully", items, len(items), total, page)
}
