package transactions

import (
	"context"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service struct {
	DB *gorm.DB
}

// Filter narrows History. An owner matches either side of a movement.
type Filter struct {
	Owner     string
	ProjectID uuid.UUID
	Type      string
}

// History returns one page of credit movements, newest first.
func (s *Service) History(ctx context.Context, f Filter, page documents.Page) ([]domain.CreditTransaction, int64, error) {
	switch f.Type {
	case "", domain.TxIssue, domain.TxTransfer, domain.TxRetire:
	default:
		return nil, 0, domain.NewSchemaError([]domain.FieldError{{Field: "type", Message: "must be issue, transfer or retire"}})
	}
	page = page.Normalize()
	filter := func(q *gorm.DB) *gorm.DB {
		if f.Owner != "" {
			q = q.Where("from_owner = ? OR to_owner = ?", f.Owner, f.Owner)
		}
		if f.ProjectID != uuid.Nil {
			q = q.Where("project_id = ?", f.ProjectID)
		}
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		return q
	}
	var total int64
	if err := s.DB.WithContext(ctx).Model(&domain.CreditTransaction{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []domain.CreditTransaction
	if err := s.DB.WithContext(ctx).Scopes(filter).Order(`"createdAt" DESC`).
		Limit(page.Limit).Offset(page.Offset).Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}
