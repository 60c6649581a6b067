// Package httpx holds the request parsing and response conventions shared by the
// registry handlers.
package httpx

import (
	"strings"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/middleware"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Actor returns the authenticated actor; routes are mounted behind RequireAuth.
func Actor(c *fiber.Ctx) (domain.Actor, error) {
	a, ok := middleware.GetActor(c)
	if !ok {
		return domain.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
	return a, nil
}

// ParamUUID parses a path parameter as a UUID.
func ParamUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return parseUUID(name, c.Params(name))
}

// QueryUUID parses an optional query parameter; absent yields uuid.Nil.
func QueryUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	v := c.Query(name)
	if v == "" {
		return uuid.Nil, nil
	}
	return parseUUID(name, v)
}

func parseUUID(field, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return uuid.Nil, domain.NewSchemaError([]domain.FieldError{{Field: field, Message: "must be a UUID"}})
	}
	return id, nil
}

// Page reads limit and offset. Out-of-range values are clamped by Normalize.
func Page(c *fiber.Ctx) documents.Page {
	return documents.Page{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}.Normalize()
}

// Body decodes a JSON body into out, mapping malformed JSON to a SchemaError.
func Body(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return domain.NewSchemaError([]domain.FieldError{{Field: "body", Message: "must be a JSON object"}})
	}
	return nil
}

// Paginated sends a page of items with {total, limit, offset, has_more}.
func Paginated(c *fiber.Ctx, message string, items interface{}, n int, total int64, page documents.Page) error {
	return response.Paginated(c, message, items, response.NewPage(total, page.Limit, page.Offset, n))
}

// Committed answers a mutation: 202 while its ledger anchor is pending, otherwise
// okStatus (200 or 201).
func Committed(c *fiber.Ctx, okStatus int, message string, data interface{}, anchor domain.AnchorStatus) error {
	switch {
	case anchor == domain.AnchorPending:
		return response.Accepted(c, message+" (ledger anchor pending)", data, nil)
	case okStatus == fiber.StatusCreated:
		return response.SuccessCreated(c, message, data, nil)
	}
	return response.Success(c, message, data, nil)
}

// OwnerScope returns the owner a listing is scoped to: the actor itself, or any
// requested owner when the actor is an admin.
func OwnerScope(c *fiber.Ctx, actor domain.Actor) (string, error) {
	owner := c.Query("owner")
	if owner == "" || owner == actor.ID {
		return actor.ID, nil
	}
	if !actor.HasRole(constants.Admin) {
		return "", domain.NewForbidden(actor.ID, constants.ViewData)
	}
	return owner, nil
}
