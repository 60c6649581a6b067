package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentVersion is one committed lifecycle event of a document. Rows are never
// updated except to record the anchor outcome; rows in pending_anchor form the
// reconciliation queue.
type DocumentVersion struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DocumentID     uuid.UUID       `gorm:"column:document_id;type:uuid;not null;uniqueIndex:idx_doc_version,priority:1" json:"document_id"`
	DocumentKind   DocumentKind    `gorm:"column:document_kind;type:varchar(16);not null" json:"document_kind"`
	Version        int64           `gorm:"column:version;not null;uniqueIndex:idx_doc_version,priority:2" json:"version"`
	Status         string          `gorm:"column:status;type:varchar(24);not null" json:"status"`
	EventType      string          `gorm:"column:event_type;type:varchar(40);not null" json:"event_type"`
	ActorID        string          `gorm:"column:actor_id;not null" json:"actor_id"`
	ContentHash    string          `gorm:"column:content_hash;not null" json:"content_hash"`
	Snapshot       datatypes.JSON  `gorm:"column:snapshot;type:jsonb;not null" json:"snapshot"`
	Metadata       datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	IdempotencyKey string          `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	AnchorStatus   AnchorStatus    `gorm:"column:anchor_status;type:varchar(20);index" json:"anchor_status"`
	AnchorAttempts int             `gorm:"column:anchor_attempts;not null;default:0" json:"anchor_attempts"`
	Ledger         LedgerReference `gorm:"embedded;embeddedPrefix:ledger_" json:"-"`
	CreatedAt      time.Time       `gorm:"column:createdAt" json:"created_at"`
}

func (DocumentVersion) TableName() string {
	return "DocumentVersions"
}

func (v *DocumentVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
