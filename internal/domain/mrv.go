package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MonitoringReport is the stored form of an MRV document. The reporting period is the
// half-open interval [StartDate, EndDate); idx_mrv_period serves temporal overlap queries.
type MonitoringReport struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProjectID        uuid.UUID           `gorm:"column:project_id;type:uuid;not null;index:idx_mrv_period,priority:1" json:"project_id"`
	MethodologyID    string              `gorm:"column:methodology_id;not null" json:"methodology_id"`
	ActorID          string              `gorm:"column:actor_id;not null" json:"actor_id"`
	StartDate        time.Time           `gorm:"column:start_date;not null;index:idx_mrv_period,priority:2" json:"start_date"`
	EndDate          time.Time           `gorm:"column:end_date;not null;index:idx_mrv_period,priority:3" json:"end_date"`
	Status           MRVStatus           `gorm:"column:status;type:varchar(24);not null;index" json:"status"`
	Version          int64               `gorm:"column:version;not null;default:1" json:"version"`
	NetRemovalValue  decimal.Decimal     `gorm:"column:net_removal_value;type:decimal(20,6);not null" json:"net_removal_value"`
	NetRemovalUnit   string              `gorm:"column:net_removal_unit;type:varchar(8);not null" json:"net_removal_unit"`
	VerifiedRemovals decimal.NullDecimal `gorm:"column:verified_removals;type:decimal(20,6)" json:"verified_removals"`
	VerifierInfo     datatypes.JSON      `gorm:"column:verifier_info;type:jsonb" json:"verifier_info,omitempty"`
	VerifierComments *string             `gorm:"column:verifier_comments" json:"verifier_comments,omitempty"`
	VerifiedBy       *string             `gorm:"column:verified_by" json:"verified_by,omitempty"`
	VerifiedAt       *time.Time          `gorm:"column:verified_at" json:"verified_at,omitempty"`
	ResubmittedFrom  *uuid.UUID          `gorm:"column:resubmitted_from;type:uuid" json:"resubmitted_from,omitempty"`
	SupersededBy     *uuid.UUID          `gorm:"column:superseded_by;type:uuid" json:"superseded_by,omitempty"`
	Document         datatypes.JSON      `gorm:"column:document;type:jsonb;not null" json:"document"`
	ContentHash      string              `gorm:"column:content_hash" json:"content_hash"`
	AnchorStatus     AnchorStatus        `gorm:"column:anchor_status;type:varchar(20)" json:"anchor_status,omitempty"`
	Ledger           LedgerReference     `gorm:"embedded;embeddedPrefix:ledger_" json:"-"`
	CreatedAt        time.Time           `gorm:"column:createdAt" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"column:updatedAt" json:"last_updated"`
}

func (MonitoringReport) TableName() string {
	return "MonitoringReports"
}

func (m *MonitoringReport) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// VintageYear is the calendar year the reporting period's removals are attributed to.
func (m *MonitoringReport) VintageYear() int {
	return m.StartDate.UTC().Year()
}
