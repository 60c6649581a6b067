package lifecycle

import (
	"context"
	"sync"
	"testing"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDD_ApprovalFlow(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()

	res, err := e.svc.SubmitPDD(ctx, proponent, pddJSON(proponent.ID, unitSquare))
	require.NoError(t, err)
	assert.Equal(t, string(domain.PDDDraft), res.Status)
	assert.Nil(t, res.LedgerReference)
	assert.Len(t, res.ContentHash, 64)

	steps := []struct {
		actor  domain.Actor
		action string
		status domain.PDDStatus
	}{
		{proponent, ActionSubmit, domain.PDDSubmitted},
		{reviewer, ActionAssignReviewer, domain.PDDUnderReview},
		{validator, ActionApprove, domain.PDDApproved},
	}
	var last *Result
	for _, s := range steps {
		last, err = e.svc.TransitionPDD(ctx, s.actor, res.ID, s.action, Payload{})
		require.NoError(t, err, s.action)
		assert.Equal(t, string(s.status), last.Status)
	}
	require.NotNil(t, last.LedgerReference)
	assert.Equal(t, "test-ledger", last.LedgerReference.LedgerID)
	assert.Equal(t, domain.AnchorAnchored, last.AnchorStatus)

	feature, err := e.svc.GetPDD(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", feature["properties"].(map[string]interface{})["status"])
	ref, ok := feature["ledger_reference"].(*domain.LedgerReference)
	require.True(t, ok)
	require.NotNil(t, ref)
	assert.Equal(t, last.LedgerReference.TransactionID, ref.TransactionID)

	versions, err := e.svc.Versions(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	assert.Equal(t, domain.AnchorNone, versions[0].AnchorStatus)
	for _, v := range versions[1:] {
		assert.Equal(t, domain.AnchorAnchored, v.AnchorStatus)
	}
	// drafts are not anchored
	assert.Len(t, e.ledger.EntriesFor(res.ID.String()), 3)
	assert.Zero(t, e.ledger.Verify())

	store := &documents.Store{DB: e.db}
	report, err := store.VerifyIntegrity(ctx, res.ID, e.ledger)
	require.NoError(t, err)
	for _, r := range report[1:] {
		assert.True(t, r.RecomputedOK)
		assert.True(t, r.LedgerMatches)
	}
}

func TestPDD_InvalidTransitions(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	id := e.draft(t, unitSquare)

	_, err := e.svc.TransitionPDD(ctx, validator, id, ActionApprove, Payload{})
	requireKind(t, err, domain.InvalidTransitionError)

	_, err = e.svc.TransitionPDD(ctx, proponent, id, "publish", Payload{})
	requireKind(t, err, domain.InvalidTransitionError)

	_, err = e.svc.TransitionPDD(ctx, reviewer, id, ActionReject, Payload{})
	requireKind(t, err, domain.SchemaError)

	// the wrong role is rejected before the state is consulted
	_, err = e.svc.TransitionPDD(ctx, proponent, id, ActionApprove, Payload{})
	requireKind(t, err, domain.ForbiddenError)

	_, err = e.svc.TransitionPDD(ctx, stranger, id, ActionSubmit, Payload{})
	requireKind(t, err, domain.ForbiddenError)

	p, err := e.svc.ProjectRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PDDDraft, p.Status)
	assert.EqualValues(t, 1, p.Version)
}

func TestPDD_SubmitRejectsBadDocuments(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()

	_, err := e.svc.SubmitPDD(ctx, proponent, []byte(`{"type":"Feature"`))
	requireKind(t, err, domain.SchemaError)

	bowtie := `[[[0,0],[1,1],[1,0],[0,1],[0,0]]]`
	_, err = e.svc.SubmitPDD(ctx, proponent, pddJSON(proponent.ID, bowtie))
	requireKind(t, err, domain.GeometryError)

	_, err = e.svc.SubmitPDD(ctx, stranger, pddJSON(proponent.ID, unitSquare))
	requireKind(t, err, domain.ForbiddenError)

	var n int64
	require.NoError(t, e.db.Model(&domain.Project{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPDD_DeprecatedMethodology(t *testing.T) {
	e := newAsyncEnv(t)
	body := []byte(`{
  "type": "Feature", "ogcr_version": "1.0.0", "profile": "pdd",
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]},
  "properties": {"name": "Old", "project_type": "biochar", "actor_id": "actor-1",
    "methodology": {"id": "OGCR-BC-001", "version": "1.0"}}
}`)
	_, err := e.svc.SubmitPDD(context.Background(), proponent, body)
	requireKind(t, err, domain.MethodologyError)
}

func TestPDD_SpatialConflict(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	first := e.approved(t, unitSquare)

	overlapping := e.draft(t, `[[[0.5,0.5],[1.5,0.5],[1.5,1.5],[0.5,1.5],[0.5,0.5]]]`)
	_, err := e.svc.TransitionPDD(ctx, proponent, overlapping, ActionSubmit, Payload{})
	conflict := requireKind(t, err, domain.ConflictError)
	assert.Equal(t, []string{first.String()}, conflict.Details["conflicting_ids"])

	// sharing an edge is not an overlap
	touching := e.draft(t, square(1, 0))
	res, err := e.svc.TransitionPDD(ctx, proponent, touching, ActionSubmit, Payload{})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PDDSubmitted), res.Status)
}

func TestPDD_ArchivedProjectFreesItsArea(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	first := e.approved(t, unitSquare)
	_, err := e.svc.TransitionPDD(ctx, admin, first, ActionArchive, Payload{})
	require.NoError(t, err)

	second := e.draft(t, unitSquare)
	_, err = e.svc.TransitionPDD(ctx, proponent, second, ActionSubmit, Payload{})
	require.NoError(t, err)
}

func TestPDD_RejectReviseAndUpdate(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	id := e.draft(t, unitSquare)

	_, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	require.NoError(t, err)
	_, err = e.svc.UpdatePDD(ctx, proponent, id, pddJSON(proponent.ID, square(5, 5)))
	requireKind(t, err, domain.InvalidTransitionError)

	_, err = e.svc.TransitionPDD(ctx, reviewer, id, ActionAssignReviewer, Payload{})
	require.NoError(t, err)
	_, err = e.svc.TransitionPDD(ctx, reviewer, id, ActionReject, Payload{Reason: "baseline is missing"})
	require.NoError(t, err)

	res, err := e.svc.TransitionPDD(ctx, proponent, id, ActionRevise, Payload{})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PDDDraft), res.Status)

	upd, err := e.svc.UpdatePDD(ctx, proponent, id, pddJSON(proponent.ID, square(5, 5)))
	require.NoError(t, err)
	assert.NotEqual(t, res.ContentHash, upd.ContentHash)

	p, err := e.svc.ProjectRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Revision)
	assert.Nil(t, p.RejectionReason)
	assert.Equal(t, []float64{5, 5, 6, 6}, p.BBox())

	_, err = e.svc.UpdatePDD(ctx, proponent, id, pddJSON(stranger.ID, square(5, 5)))
	requireKind(t, err, domain.SchemaError)
}

func TestPDD_UpdateMetadata(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	id := e.approved(t, unitSquare)

	res, err := e.svc.UpdatePDDMetadata(ctx, proponent, id, map[string]interface{}{"email": "ops@example.org"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PDDApproved), res.Status)
	assert.EqualValues(t, 5, res.Version)
	require.NotNil(t, res.LedgerReference)

	_, err = e.svc.UpdatePDDMetadata(ctx, stranger, id, map[string]interface{}{"email": "x@example.org"})
	requireKind(t, err, domain.ForbiddenError)
}

func TestPDD_ConcurrentApprovalsCommitOnce(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	id := e.draft(t, unitSquare)
	_, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	require.NoError(t, err)
	_, err = e.svc.TransitionPDD(ctx, reviewer, id, ActionAssignReviewer, Payload{})
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.TransitionPDD(ctx, validator, id, ActionApprove, Payload{})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, domain.InvalidTransitionError, domain.KindOf(err))
	}
	assert.Equal(t, 1, ok)
	versions, err := e.svc.Versions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, versions, 4)
}

func TestPDD_ConcurrentOverlappingSubmissions(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	a := e.draft(t, unitSquare)
	b := e.draft(t, `[[[0.5,0],[1.5,0],[1.5,1],[0.5,1],[0.5,0]]]`)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, domain.ConflictError, domain.KindOf(err))
	}
	assert.Equal(t, 1, ok)

	var active int64
	require.NoError(t, e.db.Model(&domain.Project{}).Where("status = ?", domain.PDDSubmitted).Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

func TestPDD_SyncAnchorFailureLeavesStateUnchanged(t *testing.T) {
	e := newEnv(t, config.AnchorSync)
	ctx := context.Background()
	id := e.draft(t, unitSquare)

	e.ledger.FailNext(10)
	_, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	requireKind(t, err, domain.AnchoringTimeoutError)

	p, err := e.svc.ProjectRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PDDDraft, p.Status)
	versions, err := e.svc.Versions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	e.ledger.FailNext(0)
	res, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorAnchored, res.AnchorStatus)
	require.NotNil(t, res.LedgerReference)

	p, err = e.svc.ProjectRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorAnchored, p.AnchorStatus)
	assert.Equal(t, res.LedgerReference.TransactionID, p.Ledger.TransactionID)
}

func TestPDD_AsyncAnchorFailureIsReconciled(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	id := e.draft(t, unitSquare)

	e.ledger.FailNext(10)
	res, err := e.svc.TransitionPDD(ctx, proponent, id, ActionSubmit, Payload{})
	require.NoError(t, err)
	assert.Equal(t, string(domain.PDDSubmitted), res.Status)
	assert.Equal(t, domain.AnchorPending, res.AnchorStatus)
	assert.Nil(t, res.LedgerReference)

	e.ledger.FailNext(0)
	out, err := e.anchors.ReconcilePending(ctx, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Anchored)
	assert.Zero(t, out.Pending)

	p, err := e.svc.ProjectRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorAnchored, p.AnchorStatus)
	assert.False(t, p.Ledger.IsZero())
	assert.Len(t, e.ledger.EntriesFor(id.String()), 1)
}

func TestPDD_List(t *testing.T) {
	e := newAsyncEnv(t)
	ctx := context.Background()
	e.approved(t, square(0, 0))
	e.draft(t, square(2, 0))
	e.draft(t, square(4, 0))

	all, total, err := e.svc.ListPDDs(ctx, PDDFilter{}, documents.Page{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 2)

	drafts, total, err := e.svc.ListPDDs(ctx, PDDFilter{Status: "draft"}, documents.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, drafts, 2)
}
