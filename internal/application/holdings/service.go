// Package holdings reads issued credits: single tokens, filtered lists and per-owner
// balances.
package holdings

import (
	"context"
	"errors"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service encapsulates credit reads.
type Service struct {
	DB *gorm.DB
}

// Filter narrows ListCredits. Nil or zero fields match everything.
type Filter struct {
	ProjectID   uuid.UUID
	VintageYear int
	Owner       string
	Retired     *bool
}

// Credit is the read form of a token, with its ledger receipt.
type Credit struct {
	domain.CarbonRemovalUnit
	LedgerReference *domain.LedgerReference `json:"ledger_reference"`
}

// Balance is what one owner holds of one project vintage.
type Balance struct {
	Owner       string          `json:"owner"`
	ProjectID   uuid.UUID       `json:"project_id"`
	VintageYear int             `json:"vintage_year"`
	Tokens      int64           `json:"tokens"`
	Amount      decimal.Decimal `json:"amount"`
}

func (s *Service) GetCredit(ctx context.Context, tokenID uuid.UUID) (*Credit, error) {
	var t domain.CarbonRemovalUnit
	err := s.DB.WithContext(ctx).Where("token_id = ?", tokenID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(domain.KindCredit, tokenID.String())
	}
	if err != nil {
		return nil, err
	}
	return newCredit(t), nil
}

// ListCredits returns one page of tokens in serial order and the total match count.
func (s *Service) ListCredits(ctx context.Context, f Filter, page documents.Page) ([]Credit, int64, error) {
	page = page.Normalize()
	filter := func(q *gorm.DB) *gorm.DB {
		if f.ProjectID != uuid.Nil {
			q = q.Where("project_id = ?", f.ProjectID)
		}
		if f.VintageYear != 0 {
			q = q.Where("vintage_year = ?", f.VintageYear)
		}
		if f.Owner != "" {
			q = q.Where("owner = ?", f.Owner)
		}
		if f.Retired != nil {
			q = q.Where("retired = ?", *f.Retired)
		}
		return q
	}
	var total int64
	if err := s.DB.WithContext(ctx).Model(&domain.CarbonRemovalUnit{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []domain.CarbonRemovalUnit
	if err := s.DB.WithContext(ctx).Scopes(filter).Order("serial_number ASC").
		Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]Credit, len(rows))
	for i := range rows {
		out[i] = *newCredit(rows[i])
	}
	return out, total, nil
}

// Balances sums the unretired credits of an owner per project and vintage.
func (s *Service) Balances(ctx context.Context, owner string) ([]Balance, error) {
	if owner == "" {
		return nil, domain.NewSchemaError([]domain.FieldError{{Field: "owner", Message: "is required"}})
	}
	var rows []Balance
	err := s.DB.WithContext(ctx).Model(&domain.CarbonRemovalUnit{}).
		Select("owner, project_id, vintage_year, COUNT(*) AS tokens, SUM(carbon_amount) AS amount").
		Where("owner = ? AND retired = ?", owner, false).
		Group("owner, project_id, vintage_year").
		Order("project_id, vintage_year").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func newCredit(t domain.CarbonRemovalUnit) *Credit {
	return &Credit{CarbonRemovalUnit: t, LedgerReference: t.Ledger.Ptr()}
}
