package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/events"
	"ogcr-registry/internal/application/holdings"
	"ogcr-registry/internal/application/lifecycle"
	"ogcr-registry/internal/application/transactions"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	proponent = domain.Actor{ID: "actor-1", Roles: []string{constants.Proponent}}
	reviewer  = domain.Actor{ID: "reviewer-1", Roles: []string{constants.Reviewer}}
	validator = domain.Actor{ID: "validator-1", Roles: []string{constants.Validator}}
	verifier  = domain.Actor{ID: "verifier-1", Roles: []string{constants.Verifier}}
	holder    = domain.Actor{ID: "holder-9", Roles: []string{constants.Holder}}
	admin     = domain.Actor{ID: "admin-1", Roles: []string{constants.Admin}}
)

const pdd = `{
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

const mrv = `{
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

func newRegistry(t *testing.T, mode string) (*Registry, *ledger.MemoryLedger) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	led := ledger.NewMemoryLedger("test-ledger")
	r := New(Options{
		DB:              db,
		Ledger:          led,
		AnchorMode:      mode,
		AnchorTimeout:   time.Second,
		AnchorRetries:   2,
		BufferRate:      decimal.RequireFromString("0.1"),
		CreditUnitSize:  decimal.NewFromInt(1),
		CreditPrecision: 3,
	})
	require.NoError(t, r.Methodologies.Register(context.Background(), &domain.Methodology{
		ID:      "OGCR-BC-001",
		Version: "1.2",
		Name:    "Blue carbon restoration",
		Rules:   []byte(`{"required_parameters":["biomass"]}`),
	}))
	return r, led
}

// approvedProject walks a PDD from draft to approved.
func approvedProject(t *testing.T, r *Registry) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := r.Lifecycle.SubmitPDD(ctx, proponent, []byte(pdd))
	require.NoError(t, err)
	for _, step := range []struct {
		actor  domain.Actor
		action string
	}{
		{proponent, lifecycle.ActionSubmit},
		{reviewer, lifecycle.ActionAssignReviewer},
		{validator, lifecycle.ActionApprove},
	} {
		_, err := r.Lifecycle.TransitionPDD(ctx, step.actor, res.ID, step.action, lifecycle.Payload{})
		require.NoError(t, err, step.action)
	}
	return res.ID
}

func pendingReport(t *testing.T, r *Registry, projectID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := r.Lifecycle.SubmitMRV(ctx, proponent, projectID, []byte(mrv))
	require.NoError(t, err)
	_, err = r.Lifecycle.TransitionMRV(ctx, proponent, res.ID, lifecycle.ActionRequestVerification, lifecycle.Payload{})
	require.NoError(t, err)
	return res.ID
}

func approve(amount string) lifecycle.VerifyInput {
	d := decimal.RequireFromString(amount)
	return lifecycle.VerifyInput{Outcome: lifecycle.OutcomeApproved, VerifiedAmount: &d}
}

func TestRegistry_VerificationIssuesCredits(t *testing.T) {
	for _, mode := range []string{config.AnchorAsync, config.AnchorSync} {
		t.Run(mode, func(t *testing.T) {
			r, led := newRegistry(t, mode)
			ctx := context.Background()
			mrvID := pendingReport(t, r, approvedProject(t, r))

			out, err := r.VerifyMRV(ctx, verifier, mrvID, approve("1000"))
			require.NoError(t, err)
			assert.Equal(t, string(domain.MRVVerified), out.Status)
			assert.Empty(t, out.IssuanceError)
			require.NotNil(t, out.Issuance)
			assert.Equal(t, 900, out.Issuance.TokenCount)
			assert.True(t, out.Issuance.BufferAmount.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, domain.AnchorAnchored, out.Issuance.AnchorStatus)

			credits, total, err := r.Holdings.ListCredits(ctx, holdings.Filter{Owner: proponent.ID}, documents.Page{Limit: 10})
			require.NoError(t, err)
			assert.EqualValues(t, 900, total)
			require.Len(t, credits, 10)
			assert.Equal(t, domain.CreditActive, credits[0].Status)
			assert.True(t, strings.HasSuffix(credits[0].SerialNumber, "-2024-00000001"), credits[0].SerialNumber)

			// delivering the same event again mints nothing
			require.NoError(t, r.Events.Dispatch(ctx, events.Event{
				Type:       domain.EventMRVVerified,
				DocumentID: mrvID,
				ActorID:    verifier.ID,
			}))
			_, total, err = r.Holdings.ListCredits(ctx, holdings.Filter{}, documents.Page{Limit: 1})
			require.NoError(t, err)
			assert.EqualValues(t, 900, total)

			assert.Zero(t, led.Verify())
		})
	}
}

func TestRegistry_CreditLifecycle(t *testing.T) {
	r, _ := newRegistry(t, config.AnchorAsync)
	ctx := context.Background()
	mrvID := pendingReport(t, r, approvedProject(t, r))
	out, err := r.VerifyMRV(ctx, verifier, mrvID, approve("10"))
	require.NoError(t, err)
	require.NotNil(t, out.Issuance)
	require.Equal(t, 9, out.Issuance.TokenCount)

	credits, _, err := r.Holdings.ListCredits(ctx, holdings.Filter{Owner: proponent.ID}, documents.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, credits, 2)
	ids := []uuid.UUID{credits[0].TokenID, credits[1].TokenID}

	tr, err := r.Trading.TransferCredits(ctx, proponent, ids, holder.ID)
	require.NoError(t, err)
	assert.Len(t, tr.Tokens, 2)

	balances, err := r.Holdings.Balances(ctx, holder.ID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.EqualValues(t, 2, balances[0].Tokens)

	reason := "Scope 1 offset 2024"
	ret, err := r.Trading.RetireCredit(ctx, holder, ids[0], reason, nil)
	require.NoError(t, err)
	assert.Equal(t, string(domain.CreditRetired), ret.Status)

	cert, err := r.Retirements.ByToken(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ret.CertificateNumber, cert.CertificateNumber)
	assert.Equal(t, holder.ID, cert.Owner)

	_, err = r.Trading.TransferCredits(ctx, holder, ids[:1], proponent.ID)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.RetiredTokenError, de.Kind)

	history, total, err := r.Transactions.History(ctx, transactions.Filter{Owner: holder.ID}, documents.Page{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, history, 2)

	// versions 2 and 3: the transfer and the retirement
	report, err := r.Integrity(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, report, 2)
	for _, v := range report {
		assert.True(t, v.RecomputedOK)
		assert.True(t, v.LedgerMatches)
	}
}

func TestRegistry_RejectedVerificationIssuesNothing(t *testing.T) {
	r, _ := newRegistry(t, config.AnchorAsync)
	ctx := context.Background()
	mrvID := pendingReport(t, r, approvedProject(t, r))

	out, err := r.VerifyMRV(ctx, verifier, mrvID, lifecycle.VerifyInput{
		Outcome:  lifecycle.OutcomeRejected,
		Comments: "sampling plots missing",
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.MRVRejected), out.Status)
	assert.Nil(t, out.Issuance)

	_, total, err := r.Holdings.ListCredits(ctx, holdings.Filter{}, documents.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRegistry_IssuanceFailureKeepsVerification(t *testing.T) {
	r, _ := newRegistry(t, config.AnchorAsync)
	ctx := context.Background()
	mrvID := pendingReport(t, r, approvedProject(t, r))

	r.Issuance.MaxTokens = 5
	out, err := r.VerifyMRV(ctx, verifier, mrvID, approve("10"))
	require.NoError(t, err)
	assert.Equal(t, string(domain.MRVVerified), out.Status)
	assert.NotEmpty(t, out.IssuanceError)
	assert.Nil(t, out.Issuance)

	row, err := r.Lifecycle.ReportRow(ctx, mrvID)
	require.NoError(t, err)
	assert.Equal(t, domain.MRVVerified, row.Status)

	r.Issuance.MaxTokens = 0
	batch, err := r.Issuance.Issue(ctx, admin, mrvID)
	require.NoError(t, err)
	assert.Len(t, batch.TokenIDs, 9)
}

func TestRegistry_RedeliveryAfterLedgerOutage(t *testing.T) {
	r, led := newRegistry(t, config.AnchorSync)
	ctx := context.Background()
	mrvID := pendingReport(t, r, approvedProject(t, r))

	verified, err := r.Lifecycle.VerifyMRV(ctx, verifier, mrvID, approve("10"))
	require.NoError(t, err)
	require.NotNil(t, verified.Event)

	led.FailNext(10)
	require.Error(t, r.Events.Dispatch(ctx, *verified.Event))
	_, err = r.Issuance.BatchFor(ctx, mrvID)
	require.Error(t, err)

	led.FailNext(0)
	require.NoError(t, r.Events.Dispatch(ctx, *verified.Event))
	batch, err := r.Issuance.BatchFor(ctx, mrvID)
	require.NoError(t, err)
	assert.Equal(t, 9, batch.TokenCount)
	assert.Equal(t, domain.AnchorAnchored, batch.AnchorStatus)
}

func TestReconcileLimit(t *testing.T) {
	assert.Equal(t, 500, reconcileLimit(0))
	assert.Equal(t, 500, reconcileLimit(-3))
	assert.Equal(t, 20, reconcileLimit(20))
	assert.Equal(t, 5000, reconcileLimit(5000))
	assert.Equal(t, 5000, reconcileLimit(9000))
}

func TestRegistry_ReconcileRequiresAdmin(t *testing.T) {
	r, led := newRegistry(t, config.AnchorAsync)
	ctx := context.Background()

	res, err := r.Lifecycle.SubmitPDD(ctx, proponent, []byte(pdd))
	require.NoError(t, err)
	led.FailNext(10)
	_, err = r.Lifecycle.TransitionPDD(ctx, proponent, res.ID, lifecycle.ActionSubmit, lifecycle.Payload{})
	require.NoError(t, err)

	led.FailNext(0)
	_, err = r.Reconcile(ctx, proponent, 10)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ForbiddenError, de.Kind)

	out, err := r.Reconcile(ctx, admin, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Anchored)
	assert.Zero(t, out.Pending)
}
