package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/conflicts"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/infrastructure/methodology"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	methodologyID      = "OGCR-BC-001"
	methodologyVersion = "1.2"
	unitSquare         = `[[[0,0],[1,0],[1,1],[0,1],[0,0]]]`
)

var (
	proponent = domain.Actor{ID: "actor-1", Roles: []string{constants.Proponent}}
	stranger  = domain.Actor{ID: "actor-2", Roles: []string{constants.Proponent}}
	reviewer  = domain.Actor{ID: "reviewer-1", Roles: []string{constants.Reviewer}}
	validator = domain.Actor{ID: "validator-1", Roles: []string{constants.Validator}}
	verifier  = domain.Actor{ID: "verifier-1", Roles: []string{constants.Verifier}}
	admin     = domain.Actor{ID: "admin-1", Roles: []string{constants.Admin}}
)

type testEnv struct {
	db      *gorm.DB
	ledger  *ledger.MemoryLedger
	anchors *anchoring.Service
	svc     *Service
}

func newEnv(t *testing.T, mode string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	reg := methodology.NewRegistry(db)
	require.NoError(t, reg.Register(context.Background(), &domain.Methodology{
		ID:      methodologyID,
		Version: methodologyVersion,
		Name:    "Blue carbon restoration",
		Rules:   []byte(`{"required_parameters":["biomass"],"max_uncertainty_ratio":0.5}`),
	}))
	require.NoError(t, reg.Register(context.Background(), &domain.Methodology{
		ID:      methodologyID,
		Version: "1.0.0",
		Status:  domain.MethodologyDeprecated,
	}))

	led := ledger.NewMemoryLedger("test-ledger")
	anchors := &anchoring.Service{
		DB:      db,
		Ledger:  led,
		Mode:    mode,
		Timeout: time.Second,
		Retries: 2,
	}
	svc := &Service{
		DB:            db,
		Locks:         locks.NewLocalLocker(),
		Anchors:       anchors,
		Conflicts:     &conflicts.Detector{},
		Methodologies: reg,
		Engines:       methodology.NewEngines(),
	}
	svc.Register()
	return &testEnv{db: db, ledger: led, anchors: anchors, svc: svc}
}

func newAsyncEnv(t *testing.T) *testEnv {
	return newEnv(t, config.AnchorAsync)
}

func pddJSON(actorID, coordinates string) []byte {
	return []byte(fmt.Sprintf(`{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "pdd",
  "geometry": {"type": "Polygon", "coordinates": %s},
  "properties": {
    "name": "Kelp Forest",
    "project_type": "blue_carbon",
    "actor_id": %q,
    "methodology": {"id": %q, "version": %q}
  }
}`, coordinates, actorID, methodologyID, methodologyVersion))
}

func mrvJSON(start, end string) []byte {
	return []byte(fmt.Sprintf(`{
  "type": "Feature",
  "ogcr_version": "1.0.0",
  "profile": "mrv",
  "properties": {
    "methodology_id": %q,
    "start_date": %q,
    "end_date": %q,
    "methodology_data": {"parameters": {"biomass": 12.5}},
    "net_removal_estimate": {"value": 1200, "unit": "tCO2e"},
    "total_uncertainty": {"min": 1000, "max": 1300, "confidence_level": 0.95}
  }
}`, methodologyID, start, end))
}

// square returns a unit-sized polygon with its lower-left corner at (x, y).
func square(x, y float64) string {
	return fmt.Sprintf(`[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]`,
		x, y, x+1, y, x+1, y+1, x, y+1, x, y)
}

func (e *testEnv) draft(t *testing.T, coordinates string) uuid.UUID {
	t.Helper()
	res, err := e.svc.SubmitPDD(context.Background(), proponent, pddJSON(proponent.ID, coordinates))
	require.NoError(t, err)
	return res.ID
}

func (e *testEnv) approved(t *testing.T, coordinates string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := e.draft(t, coordinates)
	_, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	require.NoError(t, err)
	_, err = e.svc.TransitionPDD(ctx, reviewer, id, ActionAssignReviewer, Payload{})
	require.NoError(t, err)
	_, err = e.svc.TransitionPDD(ctx, validator, id, ActionApprove, Payload{})
	require.NoError(t, err)
	return id
}

func (e *testEnv) submittedMRV(t *testing.T, projectID uuid.UUID, start, end string) uuid.UUID {
	t.Helper()
	res, err := e.svc.SubmitMRV(context.Background(), proponent, projectID, mrvJSON(start, end))
	require.NoError(t, err)
	return res.ID
}

func (e *testEnv) verifiedMRV(t *testing.T, projectID uuid.UUID, start, end string) (uuid.UUID, *VerifyResult) {
	t.Helper()
	ctx := context.Background()
	id := e.submittedMRV(t, projectID, start, end)
	_, err := e.svc.TransitionMRV(ctx, proponent, id, ActionRequestVerification, Payload{})
	require.NoError(t, err)
	amount := mustDecimal(t, "1000")
	res, err := e.svc.VerifyMRV(ctx, verifier, id, VerifyInput{Outcome: OutcomeApproved, VerifiedAmount: &amount})
	require.NoError(t, err)
	return id, res
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) *domain.Error {
	t.Helper()
	require.Error(t, err)
	var e *domain.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, e.Error())
	return e
}
