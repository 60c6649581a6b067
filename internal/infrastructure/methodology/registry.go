// Package methodology resolves methodology references and hosts the per-methodology
// validation and calculation engines.
package methodology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"ogcr-registry/internal/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Resolution is the answer to resolve(methodologyId, version).
type Resolution struct {
	Valid       bool
	Methodology *domain.Methodology
	Rules       Rules
	Reason      string
}

// Rules are the machine-readable constraints a methodology places on MRVs.
type Rules struct {
	// MaxUncertaintyRatio bounds (max-min)/max of total_uncertainty; 0 disables the check.
	MaxUncertaintyRatio float64  `json:"max_uncertainty_ratio,omitempty" yaml:"max_uncertainty_ratio"`
	RequiredParameters  []string `json:"required_parameters,omitempty" yaml:"required_parameters"`
	AllowedUnits        []string `json:"allowed_units,omitempty" yaml:"allowed_units"`
}

// Registry is the DB-backed methodology registry.
type Registry struct {
	DB *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{DB: db}
}

// CanonicalVersion maps "1.2" and "1.2.0" to "v1.2.0". It returns "" for invalid input.
func CanonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// Resolve looks up an active methodology version. An unknown or deprecated version
// resolves with Valid=false and a reason; only storage failures return an error.
func (r *Registry) Resolve(ctx context.Context, id, version string) (*Resolution, error) {
	canon := CanonicalVersion(version)
	if canon == "" {
		return &Resolution{Reason: fmt.Sprintf("version %q is not a semantic version", version)}, nil
	}
	var m domain.Methodology
	err := r.DB.WithContext(ctx).Where("id = ? AND version = ?", id, canon).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Resolution{Reason: fmt.Sprintf("methodology %s %s is not registered", id, canon)}, nil
	}
	if err != nil {
		return nil, err
	}
	res := &Resolution{Methodology: &m}
	if len(m.Rules) > 0 {
		if err := json.Unmarshal(m.Rules, &res.Rules); err != nil {
			return nil, fmt.Errorf("methodology %s %s: rules: %w", id, canon, err)
		}
	}
	if m.Status != domain.MethodologyActive {
		res.Reason = fmt.Sprintf("methodology %s %s is %s", id, canon, m.Status)
		return res, nil
	}
	res.Valid = true
	return res, nil
}

// Register upserts a methodology version.
func (r *Registry) Register(ctx context.Context, m *domain.Methodology) error {
	canon := CanonicalVersion(m.Version)
	if canon == "" {
		return fmt.Errorf("methodology %s: invalid version %q", m.ID, m.Version)
	}
	m.Version = canon
	if m.Status == "" {
		m.Status = domain.MethodologyActive
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "status", "rules", "updatedAt"}),
	}).Create(m).Error
}

// List returns every registered methodology version.
func (r *Registry) List(ctx context.Context) ([]domain.Methodology, error) {
	var out []domain.Methodology
	err := r.DB.WithContext(ctx).Order("id ASC, version ASC").Find(&out).Error
	return out, err
}

// CatalogEntry is one methodology in a YAML catalog file.
type CatalogEntry struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	Name    string `yaml:"name"`
	Status  string `yaml:"status"`
	Rules   Rules  `yaml:"rules"`
}

// Catalog is the YAML catalog layout.
type Catalog struct {
	Methodologies []CatalogEntry `yaml:"methodologies"`
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) ([]domain.Methodology, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling catalog: %w", err)
	}
	out := make([]domain.Methodology, 0, len(c.Methodologies))
	for i, e := range c.Methodologies {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has empty id", i)
		}
		if CanonicalVersion(e.Version) == "" {
			return nil, fmt.Errorf("catalog entry %s has invalid version %q", e.ID, e.Version)
		}
		rules, err := json.Marshal(e.Rules)
		if err != nil {
			return nil, err
		}
		status := e.Status
		if status == "" {
			status = domain.MethodologyActive
		}
		out = append(out, domain.Methodology{
			ID:      e.ID,
			Version: e.Version,
			Name:    e.Name,
			Status:  status,
			Rules:   datatypes.JSON(rules),
		})
	}
	return out, nil
}

// LoadCatalog seeds the registry from a YAML file.
func (r *Registry) LoadCatalog(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading catalog: %w", err)
	}
	entries, err := ParseCatalog(data)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if err := r.Register(ctx, &entries[i]); err != nil {
			return i, err
		}
	}
	log.Info().Str("path", path).Int("count", len(entries)).Msg("methodology catalog loaded")
	return len(entries), nil
}
