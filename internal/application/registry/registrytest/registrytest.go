// Package registrytest builds registries backed by in-memory sqlite and the memory
// ledger, with fixtures for walking documents through their lifecycle.
package registrytest

import (
	"context"
	"testing"
	"time"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/holdings"
	"ogcr-registry/internal/application/lifecycle"
	"ogcr-registry/internal/application/registry"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	Proponent = domain.Actor{ID: "actor-1", Roles: []string{constants.Proponent}}
	Reviewer  = domain.Actor{ID: "reviewer-1", Roles: []string{constants.Reviewer}}
	Validator = domain.Actor{ID: "validator-1", Roles: []string{constants.Validator}}
	Verifier  = domain.Actor{ID: "verifier-1", Roles: []string{constants.Verifier}}
	Holder    = domain.Actor{ID: "holder-9", Roles: []string{constants.Holder}}
	Admin     = domain.Actor{ID: "admin-1", Roles: []string{constants.Admin}}
)

// PDD is a valid project design document owned by Proponent.
const PDD = `{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "pdd",
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
  "properties": {
    "name": "Mangrove Belt",
    "project_type": "blue_carbon",
    "actor_id": "actor-1",
    "methodology": {"id": "OGCR-BC-001", "version": "1.2"}
  }
}`

// MRV is a valid 2024 monitoring report for a PDD project.
const MRV = `{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "mrv",
  "properties": {
    "methodology_id": "OGCR-BC-001",
    "start_date": "2024-01-01",
    "end_date": "2024-12-31",
    "methodology_data": {"parameters": {"biomass": 3}},
    "net_removal_estimate": {"value": 1000, "unit": "tCO2e"},
    "total_uncertainty": {"min": 900, "max": 1100, "confidence_level": 0.95}
  }
}`

// DB opens a migrated in-memory database.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// Options are the registry settings used by tests: 10% buffer, unit-sized credits.
func Options(db *gorm.DB, led ledger.Anchor, mode string) registry.Options {
	return registry.Options{
		DB:              db,
		Ledger:          led,
		AnchorMode:      mode,
		AnchorTimeout:   time.Second,
		AnchorRetries:   2,
		BufferRate:      decimal.RequireFromString("0.1"),
		CreditUnitSize:  decimal.NewFromInt(1),
		CreditPrecision: 3,
	}
}

// RegisterMethodology adds OGCR-BC-001 v1.2, the methodology the fixtures cite.
func RegisterMethodology(t *testing.T, r *registry.Registry) {
	t.Helper()
	require.NoError(t, r.Methodologies.Register(context.Background(), &domain.Methodology{
		ID:      "OGCR-BC-001",
		Version: "1.2",
		Name:    "Blue carbon restoration",
		Rules:   []byte(`{"required_parameters":["biomass"]}`),
	}))
}

// New returns a registry with the fixture methodology registered.
func New(t *testing.T, mode string) (*registry.Registry, *ledger.MemoryLedger) {
	t.Helper()
	led := ledger.NewMemoryLedger("test-ledger")
	r := registry.New(Options(DB(t), led, mode))
	RegisterMethodology(t, r)
	return r, led
}

// ApprovedProject walks PDD from draft to approved.
func ApprovedProject(t *testing.T, r *registry.Registry) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := r.Lifecycle.SubmitPDD(ctx, Proponent, []byte(PDD))
	require.NoError(t, err)
	for _, step := range []struct {
		actor  domain.Actor
		action string
	}{
		{Proponent, lifecycle.ActionSubmit},
		{Reviewer, lifecycle.ActionAssignReviewer},
		{Validator, lifecycle.ActionApprove},
	} {
		_, err := r.Lifecycle.TransitionPDD(ctx, step.actor, res.ID, step.action, lifecycle.Payload{})
		require.NoError(t, err, step.action)
	}
	return res.ID
}

// PendingReport submits MRV against projectID and requests verification.
func PendingReport(t *testing.T, r *registry.Registry, projectID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := r.Lifecycle.SubmitMRV(ctx, Proponent, projectID, []byte(MRV))
	require.NoError(t, err)
	_, err = r.Lifecycle.TransitionMRV(ctx, Proponent, res.ID, lifecycle.ActionRequestVerification, lifecycle.Payload{})
	require.NoError(t, err)
	return res.ID
}

// Approve is an approving verification of amount tCO2e.
func Approve(amount string) lifecycle.VerifyInput {
	d := decimal.RequireFromString(amount)
	return lifecycle.VerifyInput{Outcome: lifecycle.OutcomeApproved, VerifiedAmount: &d}
}

// IssuedCredits verifies a fresh report for amount and returns the token IDs
// Proponent received, in listing order.
func IssuedCredits(t *testing.T, r *registry.Registry, amount string) []uuid.UUID {
	t.Helper()
	ctx := context.Background()
	mrvID := PendingReport(t, r, ApprovedProject(t, r))
	out, err := r.VerifyMRV(ctx, Verifier, mrvID, Approve(amount))
	require.NoError(t, err)
	require.Empty(t, out.IssuanceError)

	credits, _, err := r.Holdings.ListCredits(ctx, holdings.Filter{Owner: Proponent.ID}, documents.Page{Limit: 100})
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(credits))
	for _, c := range credits {
		ids = append(ids, c.TokenID)
	}
	return ids
}
