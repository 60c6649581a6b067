package conflicts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/pkg/geometry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var active = []domain.PDDStatus{domain.PDDSubmitted, domain.PDDUnderReview, domain.PDDApproved}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func square(t *testing.T, minLon, minLat, size float64) geometry.MultiPolygon {
	t.Helper()
	coords, err := json.Marshal([][][2]float64{{
		{minLon, minLat}, {minLon + size, minLat}, {minLon + size, minLat + size}, {minLon, minLat + size}, {minLon, minLat},
	}})
	require.NoError(t, err)
	mp, err := geometry.Parse("Polygon", coords)
	require.NoError(t, err)
	return mp
}

func insertProject(t *testing.T, db *gorm.DB, mp geometry.MultiPolygon, status domain.PDDStatus) uuid.UUID {
	t.Helper()
	coords, err := json.Marshal(mp)
	require.NoError(t, err)
	g, err := json.Marshal(domain.Geometry{Type: "MultiPolygon", Coordinates: coords})
	require.NoError(t, err)
	bb := mp.BBox()
	p := &domain.Project{
		Name:               "p",
		ProjectType:        "blue_carbon",
		ActorID:            "actor-1",
		MethodologyID:      "OGCR-BC-001",
		MethodologyVersion: "1.2",
		Status:             status,
		OGCRVersion:        "1.0.0",
		Geometry:           g,
		Document:           []byte(`{}`),
		MinLon:             bb.MinLon,
		MinLat:             bb.MinLat,
		MaxLon:             bb.MaxLon,
		MaxLat:             bb.MaxLat,
	}
	require.NoError(t, db.Create(p).Error)
	return p.ID
}

func TestCheckSpatialOverlap(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	d := &Detector{}

	approved := insertProject(t, db, square(t, 0, 0, 1), domain.PDDApproved)
	insertProject(t, db, square(t, 0.5, 0.5, 1), domain.PDDRejected)

	res, err := d.CheckSpatialOverlap(ctx, db, square(t, 0.5, 0.5, 1), active, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, []string{approved.String()}, res.ConflictingIDs)
	require.NotNil(t, res.Region)
	assert.Equal(t, geometry.BBox{MinLon: 0.5, MinLat: 0.5, MaxLon: 1, MaxLat: 1}, *res.Region)

	// edge contact is not a conflict
	res, err = d.CheckSpatialOverlap(ctx, db, square(t, 1, 0, 1), active, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, res.ConflictingIDs)
	assert.Nil(t, res.Region)

	// a document never conflicts with itself
	res, err = d.CheckSpatialOverlap(ctx, db, square(t, 0, 0, 1), active, approved)
	require.NoError(t, err)
	assert.Empty(t, res.ConflictingIDs)
}

func insertReport(t *testing.T, db *gorm.DB, projectID uuid.UUID, start, end string, status domain.MRVStatus) uuid.UUID {
	t.Helper()
	s, err := time.Parse(domain.DateLayout, start)
	require.NoError(t, err)
	e, err := time.Parse(domain.DateLayout, end)
	require.NoError(t, err)
	m := &domain.MonitoringReport{
		ProjectID:       projectID,
		MethodologyID:   "OGCR-BC-001",
		ActorID:         "actor-1",
		StartDate:       s,
		EndDate:         e,
		Status:          status,
		NetRemovalValue: decimal.NewFromInt(10),
		NetRemovalUnit:  "tCO2e",
		Document:        []byte(`{}`),
	}
	require.NoError(t, db.Create(m).Error)
	return m.ID
}

func TestCheckTemporalOverlap(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	d := &Detector{}
	project := uuid.New()
	statuses := []domain.MRVStatus{domain.MRVSubmitted, domain.MRVPendingVerification, domain.MRVVerified}

	y2024 := insertReport(t, db, project, "2024-01-01", "2025-01-01", domain.MRVVerified)
	insertReport(t, db, project, "2025-01-01", "2025-07-01", domain.MRVRejected)
	insertReport(t, db, uuid.New(), "2024-01-01", "2025-01-01", domain.MRVVerified)

	date := func(s string) time.Time {
		v, err := time.Parse(domain.DateLayout, s)
		require.NoError(t, err)
		return v
	}

	ids, err := d.CheckTemporalOverlap(ctx, db, project, date("2024-06-01"), date("2024-09-01"), statuses, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, []string{y2024.String()}, ids)

	// [2025-01-01, ...) starts where 2024 ends; the rejected report does not count
	ids, err = d.CheckTemporalOverlap(ctx, db, project, date("2025-01-01"), date("2025-04-01"), statuses, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = d.CheckTemporalOverlap(ctx, db, project, date("2024-06-01"), date("2024-09-01"), statuses, y2024)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
