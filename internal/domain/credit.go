package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CarbonRemovalUnit is one issued credit token. It references its project and source
// MRV by id only.
type CarbonRemovalUnit struct {
	TokenID               uuid.UUID       `gorm:"column:token_id;type:uuid;primaryKey" json:"token_id"`
	ProjectID             uuid.UUID       `gorm:"column:project_id;type:uuid;not null;index" json:"project_id"`
	MRVID                 uuid.UUID       `gorm:"column:mrv_id;type:uuid;not null;index" json:"mrv_id"`
	BatchID               uuid.UUID       `gorm:"column:batch_id;type:uuid;not null;index" json:"batch_id"`
	VintageYear           int             `gorm:"column:vintage_year;not null;index" json:"vintage_year"`
	CarbonAmount          decimal.Decimal `gorm:"column:carbon_amount;type:decimal(20,6);not null" json:"carbon_amount"`
	Owner                 string          `gorm:"column:owner;not null;index" json:"owner"`
	Status                CreditStatus    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Retired               bool            `gorm:"column:retired;not null;default:false;index" json:"retired"`
	RetirementReason      *string         `gorm:"column:retirement_reason" json:"retirement_reason,omitempty"`
	RetirementBeneficiary *string         `gorm:"column:retirement_beneficiary" json:"retirement_beneficiary,omitempty"`
	RetiredAt             *time.Time      `gorm:"column:retired_at" json:"retirement_timestamp,omitempty"`
	SerialNumber          string          `gorm:"column:serial_number;not null;uniqueIndex" json:"serial_number"`
	IssuedAt              time.Time       `gorm:"column:issued_at;not null" json:"issuance_date"`
	Version               int64           `gorm:"column:version;not null;default:1" json:"version"`
	AnchorStatus          AnchorStatus    `gorm:"column:anchor_status;type:varchar(20)" json:"anchor_status,omitempty"`
	Ledger                LedgerReference `gorm:"embedded;embeddedPrefix:ledger_" json:"-"`
	CreatedAt             time.Time       `gorm:"column:createdAt" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"column:updatedAt" json:"updated_at"`
}

func (CarbonRemovalUnit) TableName() string {
	return "CarbonRemovalUnits"
}

func (c *CarbonRemovalUnit) BeforeCreate(tx *gorm.DB) error {
	if c.TokenID == uuid.Nil {
		c.TokenID = uuid.New()
	}
	return nil
}
