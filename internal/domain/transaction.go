package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Credit transaction types.
const (
	TxIssue    = "issue"
	TxTransfer = "transfer"
	TxRetire   = "retire"
)

// CreditTransaction is the append-only movement history of credits: one row per
// issuance batch, transfer request or retirement.
type CreditTransaction struct {
	TxID       uuid.UUID       `gorm:"column:tx_id;type:uuid;primaryKey" json:"tx_id"`
	Type       string          `gorm:"column:type;type:varchar(20);not null;index" json:"type"`
	ProjectID  *uuid.UUID      `gorm:"column:project_id;type:uuid" json:"project_id,omitempty"`
	FromOwner  *string         `gorm:"column:from_owner" json:"from_owner,omitempty"`
	ToOwner    *string         `gorm:"column:to_owner" json:"to_owner,omitempty"`
	TokenCount int             `gorm:"column:token_count;not null" json:"token_count"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(20,6);not null" json:"amount"`
	CreatedAt  time.Time       `gorm:"column:createdAt" json:"createdAt"`
}

func (CreditTransaction) TableName() string {
	return "CreditTransactions"
}

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.TxID == uuid.Nil {
		t.TxID = uuid.New()
	}
	return nil
}
