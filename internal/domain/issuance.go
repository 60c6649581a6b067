package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IssuanceBatch records the single issuance made for a verified MRV. The unique index
// on mrv_id is the at-most-once guard.
type IssuanceBatch struct {
	BatchID          uuid.UUID       `gorm:"column:batch_id;type:uuid;primaryKey" json:"batch_id"`
	MRVID            uuid.UUID       `gorm:"column:mrv_id;type:uuid;not null;uniqueIndex" json:"mrv_id"`
	ProjectID        uuid.UUID       `gorm:"column:project_id;type:uuid;not null;index" json:"project_id"`
	VintageYear      int             `gorm:"column:vintage_year;not null" json:"vintage_year"`
	VerifiedRemovals decimal.Decimal `gorm:"column:verified_removals;type:decimal(20,6);not null" json:"verified_removals"`
	BufferRate       decimal.Decimal `gorm:"column:buffer_rate;type:decimal(8,6);not null" json:"buffer_rate"`
	BufferAmount     decimal.Decimal `gorm:"column:buffer_amount;type:decimal(20,6);not null" json:"buffer_amount"`
	IssuableAmount   decimal.Decimal `gorm:"column:issuable_amount;type:decimal(20,6);not null" json:"issuable_amount"`
	TokenCount       int             `gorm:"column:token_count;not null" json:"token_count"`
	Owner            string          `gorm:"column:owner;not null" json:"owner"`
	ContentHash      string          `gorm:"column:content_hash" json:"content_hash"`
	AnchorStatus     AnchorStatus    `gorm:"column:anchor_status;type:varchar(20)" json:"anchor_status,omitempty"`
	Ledger           LedgerReference `gorm:"embedded;embeddedPrefix:ledger_" json:"-"`
	IssuedAt         time.Time       `gorm:"column:issued_at;not null" json:"issued_at"`
}

func (IssuanceBatch) TableName() string {
	return "IssuanceBatches"
}

func (b *IssuanceBatch) BeforeCreate(tx *gorm.DB) error {
	if b.BatchID == uuid.Nil {
		b.BatchID = uuid.New()
	}
	return nil
}

// SerialCounter hands out monotonically increasing sequence numbers per project and vintage.
type SerialCounter struct {
	ProjectID   uuid.UUID `gorm:"column:project_id;type:uuid;primaryKey"`
	VintageYear int       `gorm:"column:vintage_year;primaryKey;autoIncrement:false"`
	Next        int64     `gorm:"column:next;not null"`
}

func (SerialCounter) TableName() string {
	return "SerialCounters"
}
