package lifecycle

import (
	"context"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Feature is the read form of a stored document: the hashed snapshot plus the
// unhashed registry fields (version, content hash, anchor receipt).
type Feature map[string]interface{}

// PDDFilter narrows ListPDDs. Empty fields match everything.
type PDDFilter struct {
	Status      string
	ProjectType string
	ActorID     string
}

// MRVFilter narrows ListMRVs.
type MRVFilter struct {
	ProjectID uuid.UUID
	Status    string
}

func (s *Service) GetPDD(ctx context.Context, id uuid.UUID) (Feature, error) {
	p, err := loadProject(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return pddFeature(p), nil
}

// ListPDDs returns one page of projects, newest first, and the total match count.
func (s *Service) ListPDDs(ctx context.Context, f PDDFilter, page documents.Page) ([]Feature, int64, error) {
	page = page.Normalize()
	filter := func(q *gorm.DB) *gorm.DB {
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.ProjectType != "" {
			q = q.Where("project_type = ?", f.ProjectType)
		}
		if f.ActorID != "" {
			q = q.Where("actor_id = ?", f.ActorID)
		}
		return q
	}
	var total int64
	if err := s.DB.WithContext(ctx).Model(&domain.Project{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []domain.Project
	if err := s.DB.WithContext(ctx).Scopes(filter).Order(`"createdAt" DESC`).Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]Feature, 0, len(rows))
	for i := range rows {
		out = append(out, pddFeature(&rows[i]))
	}
	return out, total, nil
}

func (s *Service) GetMRV(ctx context.Context, id uuid.UUID) (Feature, error) {
	m, err := loadReport(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return mrvFeature(m), nil
}

// ListMRVs returns one page of a project's reports ordered by reporting period.
func (s *Service) ListMRVs(ctx context.Context, f MRVFilter, page documents.Page) ([]Feature, int64, error) {
	page = page.Normalize()
	filter := func(q *gorm.DB) *gorm.DB {
		if f.ProjectID != uuid.Nil {
			q = q.Where("project_id = ?", f.ProjectID)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		return q
	}
	var total int64
	if err := s.DB.WithContext(ctx).Model(&domain.MonitoringReport{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []domain.MonitoringReport
	if err := s.DB.WithContext(ctx).Scopes(filter).Order("start_date ASC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]Feature, 0, len(rows))
	for i := range rows {
		out = append(out, mrvFeature(&rows[i]))
	}
	return out, total, nil
}

// Versions returns the recorded history of a project or report.
func (s *Service) Versions(ctx context.Context, id uuid.UUID) ([]domain.DocumentVersion, error) {
	store := &documents.Store{DB: s.DB}
	versions, err := store.Versions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.NewNotFound(domain.DocumentKind("document"), id.String())
	}
	return versions, nil
}

// ProjectRow returns the stored project, for callers that need typed columns.
func (s *Service) ProjectRow(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	return loadProject(s.DB.WithContext(ctx), id)
}

// ReportRow returns the stored monitoring report.
func (s *Service) ReportRow(ctx context.Context, id uuid.UUID) (*domain.MonitoringReport, error) {
	return loadReport(s.DB.WithContext(ctx), id)
}

func pddFeature(p *domain.Project) Feature {
	f := Feature(projectSnapshot(p))
	f["version"] = p.Version
	f["content_hash"] = p.ContentHash
	if p.AnchorStatus != domain.AnchorNone {
		f["anchor_status"] = p.AnchorStatus
	}
	f["ledger_reference"] = p.Ledger.Ptr()
	if props, ok := f["properties"].(map[string]interface{}); ok {
		props["creation_date"] = p.CreatedAt.UTC()
		props["last_updated"] = p.UpdatedAt.UTC()
		if p.ApprovedBy != nil {
			props["approved_by"] = *p.ApprovedBy
		}
	}
	return f
}

func mrvFeature(m *domain.MonitoringReport) Feature {
	f := Feature(reportSnapshot(m))
	f["version"] = m.Version
	f["content_hash"] = m.ContentHash
	if m.AnchorStatus != domain.AnchorNone {
		f["anchor_status"] = m.AnchorStatus
	}
	f["ledger_reference"] = m.Ledger.Ptr()
	if props, ok := f["properties"].(map[string]interface{}); ok {
		props["net_removal_tonnes"] = m.NetRemovalValue.String()
		if m.VerifiedAt != nil {
			props["verification_date"] = m.VerifiedAt.UTC()
		}
	}
	return f
}
