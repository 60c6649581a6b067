package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RetirementCertificate is issued once per retired credit.
type RetirementCertificate struct {
	CertificateID     uuid.UUID       `gorm:"column:certificate_id;type:uuid;primaryKey" json:"certificate_id"`
	TokenID           uuid.UUID       `gorm:"column:token_id;type:uuid;not null;uniqueIndex" json:"token_id"`
	ProjectID         uuid.UUID       `gorm:"column:project_id;type:uuid;not null" json:"project_id"`
	Owner             string          `gorm:"column:owner;not null;index" json:"owner"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(20,6);not null" json:"amount"`
	RetiredAt         time.Time       `gorm:"column:retired_at;not null" json:"retired_at"`
	Reason            string          `gorm:"column:reason;not null" json:"reason"`
	Beneficiary       *string         `gorm:"column:beneficiary" json:"beneficiary,omitempty"`
	TransactionID     uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null" json:"transaction_id"`
	CertificateNumber string          `gorm:"column:certificate_number;uniqueIndex;not null" json:"certificate_number"`
	CreatedAt         time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (RetirementCertificate) TableName() string {
	return "RetirementCertificates"
}

func (r *RetirementCertificate) BeforeCreate(tx *gorm.DB) error {
	if r.CertificateID == uuid.Nil {
		r.CertificateID = uuid.New()
	}
	return nil
}
