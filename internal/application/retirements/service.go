package retirements

import (
	"context"
	"errors"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const kindCertificate = domain.DocumentKind("retirement_certificate")

type Service struct {
	DB *gorm.DB
}

// ListByOwner returns one page of an owner's retirement certificates, newest first.
func (s *Service) ListByOwner(ctx context.Context, owner string, page documents.Page) ([]domain.RetirementCertificate, int64, error) {
	if owner == "" {
		return nil, 0, domain.NewSchemaError([]domain.FieldError{{Field: "owner", Message: "is required"}})
	}
	page = page.Normalize()
	var total int64
	if err := s.DB.WithContext(ctx).Model(&domain.RetirementCertificate{}).Where("owner = ?", owner).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var certs []domain.RetirementCertificate
	if err := s.DB.WithContext(ctx).Where("owner = ?", owner).Order("retired_at DESC").
		Limit(page.Limit).Offset(page.Offset).Find(&certs).Error; err != nil {
		return nil, 0, err
	}
	return certs, total, nil
}

func (s *Service) Get(ctx context.Context, certificateID uuid.UUID) (*domain.RetirementCertificate, error) {
	return s.first(ctx, "certificate_id = ?", certificateID, certificateID.String())
}

// ByToken returns the certificate of a retired credit.
func (s *Service) ByToken(ctx context.Context, tokenID uuid.UUID) (*domain.RetirementCertificate, error) {
	return s.first(ctx, "token_id = ?", tokenID, tokenID.String())
}

func (s *Service) first(ctx context.Context, where string, arg interface{}, id string) (*domain.RetirementCertificate, error) {
	var cert domain.RetirementCertificate
	err := s.DB.WithContext(ctx).Where(where, arg).First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(kindCertificate, id)
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
