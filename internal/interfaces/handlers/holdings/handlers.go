package holdings

import (
	"strconv"

	holdsvc "ogcr-registry/internal/application/holdings"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *holdsvc.Service
}

// ListCredits GET /api/v1/credits?project_id=&vintage_year=&owner=&retired=&limit=&offset=
func (h *Handlers) ListCredits(c *fiber.Ctx) error {
	projectID, err := httpx.QueryUUID(c, "project_id")
	if err != nil {
		return err
	}
	f := holdsvc.Filter{ProjectID: projectID, Owner: c.Query("owner")}
	if v := c.Query("vintage_year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1900 || year > 9999 {
			return domain.NewSchemaError([]domain.FieldError{{Field: "vintage_year", Message: "must be a four digit year"}})
		}
		f.VintageYear = year
	}
	if v := c.Query("retired"); v != "" {
		retired, err := strconv.ParseBool(v)
		if err != nil {
			return domain.NewSchemaError([]domain.FieldError{{Field: "retired", Message: "must be true or false"}})
		}
		f.Retired = &retired
	}
	page := httpx.Page(c)
	items, total, err := h.Service.ListCredits(c.UserContext(), f, page)
	if err != nil {
		return err
	}
	return httpx.Paginated(c, "Credits fetched successfully", items, len(items), total, page)
}

// GetCredit GET /api/v1/credits/:id
func (h *Handlers) GetCredit(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	credit, err := h.Service.GetCredit(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Credit fetched successfully", credit, nil)
}

// ViewHoldings GET /api/v1/holdings: unretired balances of the caller (admins may
// pass ?owner=).
func (h *Handlers) ViewHoldings(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	owner, err := httpx.OwnerScope(c, actor)
	if err != nil {
		return err
	}
	balances, err := h.Service.Balances(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return response.Success(c, "Holdings fetched successfully", fiber.Map{"owner": owner, "balances": balances}, nil)
}
