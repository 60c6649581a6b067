package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Methodology statuses.
const (
	MethodologyActive     = "active"
	MethodologyDeprecated = "deprecated"
)

// Methodology is one registered version of a quantification methodology. Version is
// stored in canonical semver form (v1.2.0).
type Methodology struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id" yaml:"id"`
	Version   string         `gorm:"column:version;primaryKey" json:"version" yaml:"version"`
	Name      string         `gorm:"column:name" json:"name" yaml:"name"`
	Status    string         `gorm:"column:status;type:varchar(16);not null;default:active" json:"status" yaml:"status"`
	Rules     datatypes.JSON `gorm:"column:rules;type:jsonb" json:"rules,omitempty" yaml:"-"`
	CreatedAt time.Time      `gorm:"column:createdAt" json:"createdAt" yaml:"-"`
	UpdatedAt time.Time      `gorm:"column:updatedAt" json:"updatedAt" yaml:"-"`
}

func (Methodology) TableName() string {
	return "Methodologies"
}
