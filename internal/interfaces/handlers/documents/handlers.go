// Package documents serves the version history and integrity report of any
// registry document: projects, monitoring reports and credits.
package documents

import (
	"ogcr-registry/internal/application/registry"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Registry *registry.Registry
}

// Versions GET /api/v1/{pdd,mrv,credits}/:id/versions
func (h *Handlers) Versions(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	versions, err := h.Registry.Lifecycle.Versions(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Versions fetched successfully", versions, nil)
}

// Version GET /api/v1/{pdd,mrv,credits}/:id/versions/:version
func (h *Handlers) Version(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := c.ParamsInt("version")
	if err != nil || n < 1 {
		return domain.NewSchemaError([]domain.FieldError{{Field: "version", Message: "must be a positive integer"}})
	}
	v, err := h.Registry.Documents.Version(c.UserContext(), id, int64(n))
	if err != nil {
		return err
	}
	return response.Success(c, "Version fetched successfully", v, nil)
}

// Integrity GET /api/v1/{pdd,mrv,credits}/:id/integrity recomputes every stored hash
// and compares it with the ledger entry.
func (h *Handlers) Integrity(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	report, err := h.Registry.Integrity(c.UserContext(), id)
	if err != nil {
		return err
	}
	intact := true
	for _, r := range report {
		if !r.RecomputedOK || (r.AnchorStatus == string(domain.AnchorAnchored) && !r.LedgerMatches) {
			intact = false
		}
	}
	return response.Success(c, "Integrity checked", fiber.Map{
		"document_id": id,
		"intact":      intact,
		"versions":    report,
	}, nil)
}
