package trading

import (
	"fmt"
	"strings"

	tradesvc "ogcr-registry/internal/application/trading"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/interfaces/handlers/httpx"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *tradesvc.Service
}

// TransferBody is the body of POST /api/v1/credits/transfer.
type TransferBody struct {
	TokenIDs  []string `json:"token_ids"`
	Recipient string   `json:"recipient"`
}

// RetireBody is the body of POST /api/v1/credits/:id/retire.
type RetireBody struct {
	Reason      string  `json:"reason"`
	Beneficiary *string `json:"beneficiary"`
}

// TransferCredits POST /api/v1/credits/transfer: every token moves or none does.
func (h *Handlers) TransferCredits(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	var body TransferBody
	if err := httpx.Body(c, &body); err != nil {
		return err
	}
	ids, err := tokenIDs(body.TokenIDs)
	if err != nil {
		return err
	}
	res, err := h.Service.TransferCredits(c.UserContext(), actor, ids, strings.TrimSpace(body.Recipient))
	if err != nil {
		return err
	}
	if res.TransferStatus == tradesvc.TransferPending {
		return response.Accepted(c, "Transfer recorded (ledger anchor pending)", res, nil)
	}
	return response.Success(c, "Transfer successful", res, nil)
}

// RetireCredit POST /api/v1/credits/:id/retire
func (h *Handlers) RetireCredit(c *fiber.Ctx) error {
	actor, err := httpx.Actor(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var body RetireBody
	if err := httpx.Body(c, &body); err != nil {
		return err
	}
	res, err := h.Service.RetireCredit(c.UserContext(), actor, id, body.Reason, body.Beneficiary)
	if err != nil {
		return err
	}
	return httpx.Committed(c, fiber.StatusOK, "Credit retired successfully", res, res.AnchorStatus)
}

func tokenIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "token_ids", Message: "is required"}})
	}
	var fields []domain.FieldError
	out := make([]uuid.UUID, 0, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			fields = append(fields, domain.FieldError{Field: fmt.Sprintf("token_ids[%d]", i), Message: "must be a UUID"})
			continue
		}
		out = append(out, id)
	}
	if len(fields) > 0 {
		return nil, domain.NewSchemaError(fields)
	}
	return out, nil
}
