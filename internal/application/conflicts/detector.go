// Package conflicts detects spatial overlap between project boundaries and temporal
// overlap between monitoring periods. Both checks run on the caller's transaction so
// they see the same snapshot as the commit that depends on them; callers also hold the
// conflict-domain lock (see internal/infrastructure/locks).
package conflicts

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/geometry"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Detector holds no state; it is a struct so it can be injected and faked.
type Detector struct{}

// SpatialResult lists overlapping projects and the bounding box of the overlap.
type SpatialResult struct {
	ConflictingIDs []string
	Region         *geometry.BBox
}

// CheckSpatialOverlap returns the projects in statuses whose boundary overlaps candidate
// with positive area. Boundaries that only touch are not conflicts.
// The bbox columns prefilter candidates; excludeID skips the document itself.
func (d *Detector) CheckSpatialOverlap(ctx context.Context, tx *gorm.DB, candidate geometry.MultiPolygon, statuses []domain.PDDStatus, excludeID uuid.UUID) (*SpatialResult, error) {
	bb := candidate.BBox()
	var rows []domain.Project
	err := tx.WithContext(ctx).
		Select("id", "geometry", "min_lon", "min_lat", "max_lon", "max_lat").
		Where("status IN ?", statuses).
		Where("id <> ?", excludeID).
		Where("min_lon < ? AND max_lon > ? AND min_lat < ? AND max_lat > ?", bb.MaxLon, bb.MinLon, bb.MaxLat, bb.MinLat).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	res := &SpatialResult{}
	for i := range rows {
		other, err := StoredGeometry(rows[i].Geometry)
		if err != nil {
			return nil, domain.Wrap(domain.SerializationError, fmt.Sprintf("stored geometry of project %s is unreadable", rows[i].ID), err)
		}
		if !geometry.Overlaps(candidate, other) {
			continue
		}
		res.ConflictingIDs = append(res.ConflictingIDs, rows[i].ID.String())
		region := bb.Intersection(other.BBox())
		if res.Region == nil {
			res.Region = &region
		} else {
			res.Region.MinLon = math.Min(res.Region.MinLon, region.MinLon)
			res.Region.MinLat = math.Min(res.Region.MinLat, region.MinLat)
			res.Region.MaxLon = math.Max(res.Region.MaxLon, region.MaxLon)
			res.Region.MaxLat = math.Max(res.Region.MaxLat, region.MaxLat)
		}
	}
	return res, nil
}

// CheckTemporalOverlap returns the MRVs of projectID in statuses whose half-open
// period [start, end) overlaps the candidate's: a.start < b.end AND b.start < a.end.
// Adjacent periods do not overlap. The query is served by idx_mrv_period.
func (d *Detector) CheckTemporalOverlap(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, start, end time.Time, statuses []domain.MRVStatus, excludeID uuid.UUID) ([]string, error) {
	var ids []uuid.UUID
	err := tx.WithContext(ctx).Model(&domain.MonitoringReport{}).
		Where("project_id = ?", projectID).
		Where("start_date < ? AND end_date > ?", end.UTC(), start.UTC()).
		Where("status IN ?", statuses).
		Where("id <> ?", excludeID).
		Order("start_date ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out, nil
}

// StoredGeometry decodes the geometry column of a project.
func StoredGeometry(raw []byte) (geometry.MultiPolygon, error) {
	var g domain.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return geometry.Parse(g.Type, g.Coordinates)
}
