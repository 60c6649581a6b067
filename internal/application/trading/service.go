// Package trading moves issued credits: transfers between owners and retirement.
package trading

import (
	"context"
	"encoding/json"
	"time"

	"ogcr-registry/internal/application/access"
	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/workflow"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaxTransferTokens bounds one transfer request.
const MaxTransferTokens = 1000

const (
	TransferCompleted = "completed"
	TransferPending   = "pending_anchor"
)

type Service struct {
	DB      *gorm.DB
	Locks   locks.Locker
	Anchors *anchoring.Service
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type TransferResult struct {
	TransferStatus string            `json:"transferStatus"`
	TransactionID  uuid.UUID         `json:"transaction_id"`
	Recipient      string            `json:"recipient"`
	Amount         decimal.Decimal   `json:"amount"`
	Tokens         []workflow.Result `json:"tokens"`
}

type RetireResult struct {
	workflow.Result
	CertificateID     uuid.UUID `json:"certificate_id"`
	CertificateNumber string    `json:"certificate_number"`
	TransactionID     uuid.UUID `json:"transaction_id"`
	RetiredAt         time.Time `json:"retirement_timestamp"`
}

// Register installs the receipt handler of credit versions.
func (s *Service) Register() {
	if s.Anchors != nil {
		s.Anchors.OnConfirm(domain.KindCredit, workflow.ConfirmRow(&domain.CarbonRemovalUnit{}, "token_id"))
	}
}

// TransferCredits moves every token to recipient in one commit, or none of them.
// Retired tokens fail with RetiredTokenError and tokens the actor does not own with
// OwnershipError.
func (s *Service) TransferCredits(ctx context.Context, actor domain.Actor, tokenIDs []uuid.UUID, recipient string) (*TransferResult, error) {
	if err := access.Require(actor, constants.TransferCredits); err != nil {
		return nil, err
	}
	if err := checkTransfer(tokenIDs, recipient); err != nil {
		return nil, err
	}
	names := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		names[i] = locks.DocumentLock(id.String())
	}

	txID := uuid.New()
	var amount decimal.Decimal
	results, err := s.executor().RunBatch(ctx, workflow.Batch{
		Event:  domain.EventCRUTransferred,
		Actor:  actor,
		Locks:  names,
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.BatchOutcome, error) {
			tokens, err := loadTokens(tx, tokenIDs)
			if err != nil {
				return nil, err
			}
			changes := make([]documents.Change, len(tokens))
			owners := map[string]struct{}{}
			projects := map[uuid.UUID]struct{}{}
			sum := decimal.Zero
			for i := range tokens {
				t := &tokens[i]
				if err := movable(actor, t); err != nil {
					return nil, err
				}
				if t.Owner == recipient {
					return nil, domain.NewSchemaError([]domain.FieldError{{Field: "recipient", Message: "recipient already owns token " + t.TokenID.String()}})
				}
				owners[t.Owner] = struct{}{}
				projects[t.ProjectID] = struct{}{}
				sum = sum.Add(t.CarbonAmount)

				next := *t
				next.Owner = recipient
				next.Status = domain.CreditTransferred
				changes[i] = documents.Change{
					DocumentID: t.TokenID,
					Kind:       domain.KindCredit,
					Version:    t.Version + 1,
					Status:     string(domain.CreditTransferred),
					Snapshot:   creditSnapshot(&next),
					Metadata: map[string]interface{}{
						"from":           t.Owner,
						"to":             recipient,
						"transaction_id": txID.String(),
					},
				}
			}
			return &workflow.BatchOutcome{
				Changes: changes,
				Write: func(tx *gorm.DB, versions []*domain.DocumentVersion) error {
					for i := range tokens {
						up := map[string]interface{}{
							"owner":         recipient,
							"status":        domain.CreditTransferred,
							"anchor_status": versions[i].AnchorStatus,
						}
						if err := documents.Advance(tx, &domain.CarbonRemovalUnit{}, "token_id", tokens[i].TokenID, tokens[i].Version, up); err != nil {
							return err
						}
					}
					rec := &domain.CreditTransaction{
						TxID:       txID,
						Type:       domain.TxTransfer,
						ToOwner:    &recipient,
						TokenCount: len(tokens),
						Amount:     sum,
					}
					if len(owners) == 1 {
						from := tokens[0].Owner
						rec.FromOwner = &from
					}
					if len(projects) == 1 {
						p := tokens[0].ProjectID
						rec.ProjectID = &p
					}
					amount = sum
					return tx.Create(rec).Error
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.AddTransferred(len(results))
	out := &TransferResult{
		TransferStatus: TransferCompleted,
		TransactionID:  txID,
		Recipient:      recipient,
		Amount:         amount,
		Tokens:         results,
	}
	for _, r := range results {
		if r.AnchorStatus != domain.AnchorAnchored {
			out.TransferStatus = TransferPending
		}
	}
	log.Info().Str("transaction_id", txID.String()).Str("actor_id", actor.ID).Str("recipient", recipient).
		Int("tokens", len(results)).Str("status", out.TransferStatus).Msg("credits transferred")
	return out, nil
}

// RetireCredit permanently retires one token and issues its retirement certificate.
func (s *Service) RetireCredit(ctx context.Context, actor domain.Actor, tokenID uuid.UUID, reason string, beneficiary *string) (*RetireResult, error) {
	if err := access.Require(actor, constants.RetireCredits); err != nil {
		return nil, err
	}
	if err := checkRetire(reason, beneficiary); err != nil {
		return nil, err
	}

	var out RetireResult
	res, err := s.executor().Run(ctx, workflow.Transition{
		Kind:   domain.KindCredit,
		ID:     tokenID,
		Event:  domain.EventCRURetired,
		Actor:  actor,
		Locks:  []string{locks.DocumentLock(tokenID.String())},
		Anchor: true,
		Prepare: func(tx *gorm.DB) (*workflow.Outcome, error) {
			tokens, err := loadTokens(tx, []uuid.UUID{tokenID})
			if err != nil {
				return nil, err
			}
			t := &tokens[0]
			if err := movable(actor, t); err != nil {
				return nil, err
			}
			next := *t
			next.Status = domain.CreditRetired
			next.Retired = true
			next.RetirementReason = &reason
			next.RetirementBeneficiary = beneficiary
			return &workflow.Outcome{
				Version:  t.Version + 1,
				Status:   string(domain.CreditRetired),
				Snapshot: creditSnapshot(&next),
				Metadata: map[string]interface{}{"reason": reason},
				Write: func(tx *gorm.DB, v *domain.DocumentVersion) error {
					now := s.now()
					err := documents.Advance(tx, &domain.CarbonRemovalUnit{}, "token_id", t.TokenID, t.Version, map[string]interface{}{
						"status":                 domain.CreditRetired,
						"retired":                true,
						"retirement_reason":      reason,
						"retirement_beneficiary": beneficiary,
						"retired_at":             now,
						"anchor_status":          v.AnchorStatus,
					})
					if err != nil {
						return err
					}
					owner := t.Owner
					projectID := t.ProjectID
					rec := &domain.CreditTransaction{
						Type:       domain.TxRetire,
						ProjectID:  &projectID,
						FromOwner:  &owner,
						TokenCount: 1,
						Amount:     t.CarbonAmount,
					}
					if err := tx.Create(rec).Error; err != nil {
						return err
					}
					cert := &domain.RetirementCertificate{
						TokenID:           t.TokenID,
						ProjectID:         t.ProjectID,
						Owner:             owner,
						Amount:            t.CarbonAmount,
						RetiredAt:         now,
						Reason:            reason,
						Beneficiary:       beneficiary,
						TransactionID:     rec.TxID,
						CertificateNumber: CertificateNumber(t.SerialNumber),
					}
					if err := tx.Create(cert).Error; err != nil {
						return err
					}
					out.CertificateID = cert.CertificateID
					out.CertificateNumber = cert.CertificateNumber
					out.TransactionID = rec.TxID
					out.RetiredAt = now
					return nil
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	out.Result = *res
	s.Metrics.AddRetired(1)
	log.Info().Str("token_id", tokenID.String()).Str("actor_id", actor.ID).
		Str("certificate_number", out.CertificateNumber).Msg("credit retired")
	return &out, nil
}

// CertificateNumber derives the retirement certificate number from the credit's serial.
// A credit is retired at most once, so the number is unique.
func CertificateNumber(serial string) string {
	return "CERT-" + serial
}

func checkTransfer(tokenIDs []uuid.UUID, recipient string) error {
	var fields []domain.FieldError
	switch {
	case len(tokenIDs) == 0:
		fields = append(fields, domain.FieldError{Field: "tokenIds", Message: "at least one token is required"})
	case len(tokenIDs) > MaxTransferTokens:
		fields = append(fields, domain.FieldError{Field: "tokenIds", Message: "too many tokens in one transfer"})
	}
	seen := make(map[uuid.UUID]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		if _, dup := seen[id]; dup {
			fields = append(fields, domain.FieldError{Field: "tokenIds", Message: "duplicate token " + id.String()})
			break
		}
		seen[id] = struct{}{}
	}
	if recipient == "" {
		fields = append(fields, domain.FieldError{Field: "recipient", Message: "is required"})
	}
	if len(fields) > 0 {
		return domain.NewSchemaError(fields)
	}
	return nil
}

func checkRetire(reason string, beneficiary *string) error {
	var fields []domain.FieldError
	if reason == "" {
		fields = append(fields, domain.FieldError{Field: "reason", Message: "is required"})
	} else if len(reason) > 500 {
		fields = append(fields, domain.FieldError{Field: "reason", Message: "must be at most 500 characters"})
	}
	if beneficiary != nil && len(*beneficiary) > 200 {
		fields = append(fields, domain.FieldError{Field: "beneficiary", Message: "must be at most 200 characters"})
	}
	if len(fields) > 0 {
		return domain.NewSchemaError(fields)
	}
	return nil
}

// loadTokens returns the tokens in request order.
func loadTokens(tx *gorm.DB, ids []uuid.UUID) ([]domain.CarbonRemovalUnit, error) {
	var rows []domain.CarbonRemovalUnit
	if err := tx.Where("token_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.CarbonRemovalUnit, len(rows))
	for _, r := range rows {
		byID[r.TokenID] = r
	}
	out := make([]domain.CarbonRemovalUnit, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, domain.NewNotFound(domain.KindCredit, id.String())
		}
		out[i] = r
	}
	return out, nil
}

// movable checks a token can change hands or be retired by actor. Retirement is checked
// first: a retired token is never movable, whoever asks.
func movable(actor domain.Actor, t *domain.CarbonRemovalUnit) error {
	if t.Retired || t.Status == domain.CreditRetired {
		return domain.NewRetiredToken(t.TokenID.String())
	}
	if !access.IsOwnerOrAdmin(actor, t.Owner) {
		return domain.NewOwnership(t.TokenID.String(), t.Owner, actor.ID)
	}
	if !t.Status.Transferable() {
		return domain.NewInvalidTransition(domain.KindCredit, string(t.Status), "move")
	}
	return nil
}

func creditSnapshot(t *domain.CarbonRemovalUnit) map[string]interface{} {
	snap := map[string]interface{}{
		"token_id":      t.TokenID.String(),
		"serial_number": t.SerialNumber,
		"project_id":    t.ProjectID.String(),
		"mrv_id":        t.MRVID.String(),
		"batch_id":      t.BatchID.String(),
		"vintage_year":  t.VintageYear,
		"carbon_amount": json.Number(t.CarbonAmount.String()),
		"owner":         t.Owner,
		"status":        string(t.Status),
		"retired":       t.Retired,
	}
	if t.Retired {
		ret := map[string]interface{}{}
		if t.RetirementReason != nil {
			ret["reason"] = *t.RetirementReason
		}
		if t.RetirementBeneficiary != nil {
			ret["beneficiary"] = *t.RetirementBeneficiary
		}
		snap["retirement"] = ret
	}
	return snap
}

func (s *Service) executor() *workflow.Executor {
	return &workflow.Executor{DB: s.DB, Locks: s.Locks, Anchors: s.Anchors, Metrics: s.Metrics, Now: s.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
