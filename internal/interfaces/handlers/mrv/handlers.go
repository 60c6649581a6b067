package mrv

import (
	"ogcr-registry/internal/application/lifecycle"
	"ogcr-registry/internal/application/registry"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Registry *registry.Registry
}

// TransitionBody is the body of POST /mrv/:id/transition.
type TransitionBody struct {
	Action string `json:"action"`
	lifecycle.Payload
}

// Submit POST /api/v1/pdd/:id/mrv: the body is the MRV GeoJSON Feature.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	projectID, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.SubmitMRV(c.UserContext(), actor, projectID, c.Body())
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusCreated, "Monitoring report submitted", res, res.AnchorStatus)
}

// List GET /api/v1/mrv?project_id=&status=&limit=&offset=
func (h *Handlers) List(c *fiber.Ctx) error {
	projectID, err := httpx.QueryUUID(c, "project_id")
	if err != nil {
		return err
	}
	page := httpx.Page(c)
	items, total, err := h.Registry.Lifecycle.ListMRVs(c.UserContext(), lifecycle.MRVFilter{
		ProjectID: projectID,
		Status:    c.Query("status"),
	}, page)
	if err != nil {
		return err
	}
	return httpx.Paginated(c, "Monitoring reports fetched successfully", items, len(items), total, page)
}

// Get GET /api/v1/mrv/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	f, err := h.Registry.Lifecycle.GetMRV(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Monitoring report fetched successfully", f, nil)
}

// Transition POST /api/v1/mrv/:id/transition {"action": "request_verification"|"archive", ...}
func (h *Handlers) Transition(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body TransitionBody
	if err := httpx.Body(c, &body); err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.TransitionMRV(c.UserContext(), actor, id, body.Action, body.Payload)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Monitoring report "+res.Status, res, res.AnchorStatus)
}

// Verify POST /api/v1/mrv/:id/verify {"outcome", "verified_amount", "comments", "verifier_info"}.
// An approved verification issues credits in the same request.
func (h *Handlers) Verify(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body lifecycle.VerifyInput
	if err := httpx.Body(c, &body); err != nil {
		return err
	}
	out, err := h.Registry.VerifyMRV(c.UserContext(), actor, id, body)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Monitoring report "+out.Status, out, out.AnchorStatus)
}

// Resubmit POST /api/v1/mrv/:id/resubmit: a corrected report replacing a rejected one.
func (h *Handlers) Resubmit(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.ResubmitMRV(c.UserContext(), actor, id, c.Body())
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusCreated, "Monitoring report resubmitted", res, res.AnchorStatus)
}

// Issue POST /api/v1/mrv/:id/issue retries issuance for a verified report whose
// automatic issuance failed. A second issuance fails with IdempotencyError.
func (h *Handlers) Issue(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Registry.Issuance.Issue(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusCreated, "Credits issued", b, b.AnchorStatus)
}

// Issuance GET /api/v1/mrv/:id/issuance
func (h *Handlers) Issuance(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.Registry.Issuance.BatchFor(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Issuance fetched successfully", b, nil)
}
