package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project is the stored form of a Project Design Document. Document holds the
// submitted feature without ledger_reference; the indexed columns are derived from it.
type Project struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name               string          `gorm:"column:name;not null" json:"name"`
	ProjectType        string          `gorm:"column:project_type;type:varchar(32);not null;index" json:"project_type"`
	ActorID            string          `gorm:"column:actor_id;not null;index" json:"actor_id"`
	MethodologyID      string          `gorm:"column:methodology_id;not null" json:"methodology_id"`
	MethodologyVersion string          `gorm:"column:methodology_version;not null" json:"methodology_version"`
	Status             PDDStatus       `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	OGCRVersion        string          `gorm:"column:ogcr_version;not null" json:"ogcr_version"`
	Revision           int             `gorm:"column:revision;not null;default:1" json:"revision"`
	Version            int64           `gorm:"column:version;not null;default:1" json:"version"`
	Geometry           datatypes.JSON  `gorm:"column:geometry;type:jsonb;not null" json:"geometry"`
	MinLon             float64         `gorm:"column:min_lon;index:idx_projects_bbox,priority:1" json:"-"`
	MinLat             float64         `gorm:"column:min_lat;index:idx_projects_bbox,priority:2" json:"-"`
	MaxLon             float64         `gorm:"column:max_lon;index:idx_projects_bbox,priority:3" json:"-"`
	MaxLat             float64         `gorm:"column:max_lat;index:idx_projects_bbox,priority:4" json:"-"`
	Document           datatypes.JSON  `gorm:"column:document;type:jsonb;not null" json:"document"`
	Contact            datatypes.JSON  `gorm:"column:contact;type:jsonb" json:"contact,omitempty"`
	ReviewerID         *string         `gorm:"column:reviewer_id" json:"reviewer_id,omitempty"`
	RejectionReason    *string         `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	ApprovedBy         *string         `gorm:"column:approved_by" json:"approved_by,omitempty"`
	ContentHash        string          `gorm:"column:content_hash" json:"content_hash"`
	AnchorStatus       AnchorStatus    `gorm:"column:anchor_status;type:varchar(20)" json:"anchor_status,omitempty"`
	Ledger             LedgerReference `gorm:"embedded;embeddedPrefix:ledger_" json:"-"`
	CreatedAt          time.Time       `gorm:"column:createdAt" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updatedAt" json:"last_updated"`
}

func (Project) TableName() string {
	return "Projects"
}

// BeforeCreate: never insert zero UUID for primary key.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// BBox returns the stored bounding box as [minLon, minLat, maxLon, maxLat].
func (p *Project) BBox() []float64 {
	return []float64{p.MinLon, p.MinLat, p.MaxLon, p.MaxLat}
}
