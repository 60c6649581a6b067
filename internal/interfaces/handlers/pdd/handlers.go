package pdd

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

// TransitionBody is the body of POST /pdd/:id/transition.
type TransitionBody struct {
	Action string `json:"action"`
	lifecycle.Payload
}

// Submit POST /api/v1/pdd: the body is the PDD GeoJSON Feature.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.SubmitPDD(c.UserContext(), actor, c.Body())
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusCreated, "Project design document created", res, res.AnchorStatus)
}

// List GET /api/v1/pdd?status=&project_type=&actor_id=&limit=&offset=
func (h *Handlers) List(c *fiber.Ctx) error {
	page := httpx.Page(c)
	items, total, err := h.Registry.Lifecycle.ListPDDs(c.UserContext(), lifecycle.PDDFilter{
		Status:      c.Query("status"),
		ProjectType: c.Query("project_type"),
		ActorID:     c.Query("actor_id"),
	}, page)
	if err != nil {
		return err
	}
	return httpx.Paginated(c, "Project design documents fetched successfully", items, len(items), total, page)
}

// Get GET /api/v1/pdd/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	f, err := h.Registry.Lifecycle.GetPDD(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Project design document fetched successfully", f, nil)
}

// Update PUT /api/v1/pdd/:id: replaces a draft.
func (h *Handlers) Update(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.UpdatePDD(c.UserContext(), actor, id, c.Body())
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Project design document updated", res, res.AnchorStatus)
}

// UpdateMetadata PATCH /api/v1/pdd/:id/metadata {"contact": {...}}
func (h *Handlers) UpdateMetadata(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Contact map[string]interface{} `json:"contact"`
	}
	if err := httpx.Body(c, &body); err != nil {
		return err
	}
	res, err := h.Registry.Lifecycle.UpdatePDDMetadata(c.UserContext(), actor, id, body.Contact)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Project metadata updated", res, res.AnchorStatus)
}

// Transition POST /api/v1/pdd/:id/transition {"action": "...", "reason": "...", ...}
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
	res, err := h.Registry.Lifecycle.TransitionPDD(c.UserContext(), actor, id, body.Action, body.Payload)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Project design document "+res.Status, res, res.AnchorStatus)
}
