package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/database"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/infrastructure/locks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	owner    = domain.Actor{ID: "actor-1", Roles: []string{constants.Proponent}}
	holder   = domain.Actor{ID: "holder-9", Roles: []string{constants.Holder}}
	stranger = domain.Actor{ID: "actor-2", Roles: []string{constants.Proponent}}
	reviewer = domain.Actor{ID: "reviewer-1", Roles: []string{constants.Reviewer}}
	admin    = domain.Actor{ID: "admin-1", Roles: []string{constants.Admin}}
)

type testEnv struct {
	db      *gorm.DB
	ledger  *ledger.MemoryLedger
	anchors *anchoring.Service
	svc     *Service
	project uuid.UUID
	seq     int
}

func newEnv(t *testing.T, mode string) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	led := ledger.NewMemoryLedger("test-ledger")
	anchors := &anchoring.Service{DB: db, Ledger: led, Mode: mode, Timeout: time.Second, Retries: 2}
	svc := &Service{DB: db, Locks: locks.NewLocalLocker(), Anchors: anchors}
	svc.Register()
	return &testEnv{db: db, ledger: led, anchors: anchors, svc: svc, project: uuid.New()}
}

// credit stores an anchored token owned by ownerID.
func (e *testEnv) credit(t *testing.T, ownerID string, status domain.CreditStatus) uuid.UUID {
	t.Helper()
	e.seq++
	c := &domain.CarbonRemovalUnit{
		ProjectID:    e.project,
		MRVID:        uuid.New(),
		BatchID:      uuid.New(),
		VintageYear:  2024,
		CarbonAmount: decimal.NewFromInt(1),
		Owner:        ownerID,
		Status:       status,
		SerialNumber: "OGCR-TEST-2024-" + string(rune('A'+e.seq)),
		IssuedAt:     time.Now().UTC(),
		Version:      1,
		AnchorStatus: domain.AnchorAnchored,
	}
	require.NoError(t, e.db.Create(c).Error)
	return c.TokenID
}

func (e *testEnv) token(t *testing.T, id uuid.UUID) domain.CarbonRemovalUnit {
	t.Helper()
	var c domain.CarbonRemovalUnit
	require.NoError(t, e.db.Where("token_id = ?", id).First(&c).Error)
	return c
}

func TestTransfer_MovesOwnership(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	a := e.credit(t, owner.ID, domain.CreditActive)
	b := e.credit(t, owner.ID, domain.CreditActive)

	res, err := e.svc.TransferCredits(context.Background(), owner, []uuid.UUID{a, b}, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferCompleted, res.TransferStatus)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(2)))
	require.Len(t, res.Tokens, 2)

	for _, id := range []uuid.UUID{a, b} {
		c := e.token(t, id)
		assert.Equal(t, holder.ID, c.Owner)
		assert.Equal(t, domain.CreditTransferred, c.Status)
		assert.EqualValues(t, 2, c.Version)
		assert.Equal(t, domain.AnchorAnchored, c.AnchorStatus)
		entries := e.ledger.EntriesFor(id.String())
		require.Len(t, entries, 1)
		assert.Equal(t, domain.EventCRUTransferred, entries[0].EventType)
	}

	var rec domain.CreditTransaction
	require.NoError(t, e.db.Where("tx_id = ?", res.TransactionID).First(&rec).Error)
	assert.Equal(t, domain.TxTransfer, rec.Type)
	require.NotNil(t, rec.FromOwner)
	assert.Equal(t, owner.ID, *rec.FromOwner)
	assert.Equal(t, 2, rec.TokenCount)

	// the recipient can move it on
	_, err = e.svc.TransferCredits(context.Background(), holder, []uuid.UUID{a}, stranger.ID)
	require.NoError(t, err)
	assert.Equal(t, stranger.ID, e.token(t, a).Owner)
	assert.EqualValues(t, 3, e.token(t, a).Version)
}

func TestTransfer_RequiresOwnershipOfEveryToken(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	mine := e.credit(t, owner.ID, domain.CreditActive)
	theirs := e.credit(t, stranger.ID, domain.CreditActive)

	_, err := e.svc.TransferCredits(context.Background(), owner, []uuid.UUID{mine, theirs}, holder.ID)
	require.Error(t, err)
	assert.Equal(t, domain.OwnershipError, domain.KindOf(err))
	assert.Equal(t, owner.ID, e.token(t, mine).Owner)
	assert.EqualValues(t, 1, e.token(t, mine).Version)
	assert.Empty(t, e.ledger.Entries())

	_, err = e.svc.TransferCredits(context.Background(), admin, []uuid.UUID{mine, theirs}, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, holder.ID, e.token(t, theirs).Owner)
}

func TestRetire_IsTerminal(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	ctx := context.Background()
	id := e.credit(t, owner.ID, domain.CreditActive)
	beneficiary := "City of Oslo"

	res, err := e.svc.RetireCredit(ctx, owner, id, "offset 2024 emissions", &beneficiary)
	require.NoError(t, err)
	assert.Equal(t, string(domain.CreditRetired), res.Status)
	assert.Equal(t, CertificateNumber(e.token(t, id).SerialNumber), res.CertificateNumber)
	assert.Equal(t, domain.AnchorAnchored, res.AnchorStatus)

	c := e.token(t, id)
	assert.True(t, c.Retired)
	assert.Equal(t, domain.CreditRetired, c.Status)
	require.NotNil(t, c.RetirementReason)
	assert.Equal(t, "offset 2024 emissions", *c.RetirementReason)
	require.NotNil(t, c.RetiredAt)

	var cert domain.RetirementCertificate
	require.NoError(t, e.db.Where("token_id = ?", id).First(&cert).Error)
	assert.Equal(t, res.CertificateID, cert.CertificateID)
	require.NotNil(t, cert.Beneficiary)
	assert.Equal(t, beneficiary, *cert.Beneficiary)

	_, err = e.svc.TransferCredits(ctx, owner, []uuid.UUID{id}, holder.ID)
	require.Error(t, err)
	assert.Equal(t, domain.RetiredTokenError, domain.KindOf(err))
	assert.Equal(t, owner.ID, e.token(t, id).Owner)

	// retirement is checked before ownership
	_, err = e.svc.TransferCredits(ctx, stranger, []uuid.UUID{id}, holder.ID)
	assert.Equal(t, domain.RetiredTokenError, domain.KindOf(err))

	_, err = e.svc.RetireCredit(ctx, owner, id, "again", nil)
	assert.Equal(t, domain.RetiredTokenError, domain.KindOf(err))

	entries := e.ledger.EntriesFor(id.String())
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventCRURetired, entries[0].EventType)
}

func TestTransfer_MintedCreditsWaitForAnchor(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	id := e.credit(t, owner.ID, domain.CreditMinted)

	_, err := e.svc.TransferCredits(context.Background(), owner, []uuid.UUID{id}, holder.ID)
	assert.Equal(t, domain.InvalidTransitionError, domain.KindOf(err))
	_, err = e.svc.RetireCredit(context.Background(), owner, id, "offset", nil)
	assert.Equal(t, domain.InvalidTransitionError, domain.KindOf(err))
}

func TestTransfer_RejectsBadRequests(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	ctx := context.Background()
	id := e.credit(t, owner.ID, domain.CreditActive)

	cases := []struct {
		name      string
		actor     domain.Actor
		tokens    []uuid.UUID
		recipient string
		kind      domain.ErrorKind
	}{
		{"no tokens", owner, nil, holder.ID, domain.SchemaError},
		{"duplicate token", owner, []uuid.UUID{id, id}, holder.ID, domain.SchemaError},
		{"no recipient", owner, []uuid.UUID{id}, "", domain.SchemaError},
		{"self transfer", owner, []uuid.UUID{id}, owner.ID, domain.SchemaError},
		{"unknown token", owner, []uuid.UUID{uuid.New()}, holder.ID, domain.NotFoundError},
		{"no permission", reviewer, []uuid.UUID{id}, holder.ID, domain.ForbiddenError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.TransferCredits(ctx, tc.actor, tc.tokens, tc.recipient)
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err), err.Error())
		})
	}

	_, err := e.svc.RetireCredit(ctx, owner, id, "", nil)
	assert.Equal(t, domain.SchemaError, domain.KindOf(err))
	assert.Equal(t, owner.ID, e.token(t, id).Owner)
}

func TestTransfer_PendingAnchorIsReconciled(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	ctx := context.Background()
	id := e.credit(t, owner.ID, domain.CreditActive)

	e.ledger.FailNext(2)
	res, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{id}, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferPending, res.TransferStatus)
	c := e.token(t, id)
	assert.Equal(t, holder.ID, c.Owner)
	assert.Equal(t, domain.AnchorPending, c.AnchorStatus)

	_, err = e.anchors.ReconcilePending(ctx, 10, 1)
	require.NoError(t, err)
	c = e.token(t, id)
	assert.Equal(t, domain.AnchorAnchored, c.AnchorStatus)
	assert.NotEmpty(t, c.Ledger.TransactionID)
}

func TestTransfer_SyncModeLeavesOwnerOnAnchorFailure(t *testing.T) {
	e := newEnv(t, config.AnchorSync)
	ctx := context.Background()
	id := e.credit(t, owner.ID, domain.CreditActive)

	e.ledger.FailNext(2)
	_, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{id}, holder.ID)
	assert.Equal(t, domain.AnchoringTimeoutError, domain.KindOf(err))
	assert.Equal(t, owner.ID, e.token(t, id).Owner)

	res, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{id}, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferCompleted, res.TransferStatus)
	assert.Equal(t, holder.ID, e.token(t, id).Owner)
}

// hookLedger runs before on every anchor call, while no lock or transaction is held.
type hookLedger struct {
	*ledger.MemoryLedger
	before func()
}

func (l *hookLedger) Anchor(ctx context.Context, req ledger.Request) (domain.LedgerReference, error) {
	if l.before != nil {
		l.before()
	}
	return l.MemoryLedger.Anchor(ctx, req)
}

// moveWhileAnchoring hands token to ownerID during the first anchor call.
func (e *testEnv) moveWhileAnchoring(t *testing.T, token uuid.UUID, ownerID string) {
	var once sync.Once
	e.anchors.Ledger = &hookLedger{MemoryLedger: e.ledger, before: func() {
		once.Do(func() {
			require.NoError(t, e.db.Model(&domain.CarbonRemovalUnit{}).Where("token_id = ?", token).
				Update("owner", ownerID).Error)
		})
	}}
}

func TestTransfer_SyncModeUncommittedAnchorDoesNotBlockToken(t *testing.T) {
	e := newEnv(t, config.AnchorSync)
	ctx := context.Background()
	a := e.credit(t, owner.ID, domain.CreditActive)
	b := e.credit(t, owner.ID, domain.CreditActive)
	e.moveWhileAnchoring(t, b, "actor-3")

	_, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{a, b}, holder.ID)
	assert.Equal(t, domain.OwnershipError, domain.KindOf(err))
	assert.Equal(t, owner.ID, e.token(t, a).Owner)
	require.Len(t, e.ledger.EntriesFor(a.String()), 1)

	res, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{a}, stranger.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferCompleted, res.TransferStatus)
	assert.Equal(t, stranger.ID, e.token(t, a).Owner)
	assert.Len(t, e.ledger.EntriesFor(a.String()), 2)

	var v domain.DocumentVersion
	require.NoError(t, e.db.Where("document_id = ? AND version = ?", a, 2).First(&v).Error)
	assert.Equal(t, ledger.ContentKey(a.String(), domain.EventCRUTransferred, 2, v.ContentHash), v.IdempotencyKey)
	assert.Equal(t, domain.AnchorAnchored, v.AnchorStatus)
}

func TestTransfer_SyncModeRetryReusesReceipt(t *testing.T) {
	e := newEnv(t, config.AnchorSync)
	ctx := context.Background()
	a := e.credit(t, owner.ID, domain.CreditActive)
	b := e.credit(t, owner.ID, domain.CreditActive)
	e.moveWhileAnchoring(t, b, "actor-3")

	_, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{a, b}, holder.ID)
	require.Error(t, err)
	orphan := e.ledger.EntriesFor(a.String())
	require.Len(t, orphan, 1)

	res, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{a}, holder.ID)
	require.NoError(t, err)
	require.Len(t, res.Tokens, 1)
	require.Len(t, e.ledger.EntriesFor(a.String()), 1)
	assert.Equal(t, orphan[0].Reference.TransactionID, e.token(t, a).Ledger.TransactionID)
}

func TestTransfer_ReceiptFailureLeavesTransferPending(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	ctx := context.Background()
	id := e.credit(t, owner.ID, domain.CreditActive)
	e.anchors.OnConfirm(domain.KindCredit, func(tx *gorm.DB, v *domain.DocumentVersion, ref domain.LedgerReference) error {
		return errors.New("receipt write failed")
	})

	res, err := e.svc.TransferCredits(ctx, owner, []uuid.UUID{id}, holder.ID)
	require.NoError(t, err)
	assert.Equal(t, TransferPending, res.TransferStatus)
	c := e.token(t, id)
	assert.Equal(t, holder.ID, c.Owner)
	assert.Equal(t, domain.AnchorPending, c.AnchorStatus)

	e.svc.Register()
	_, err = e.anchors.ReconcilePending(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.AnchorAnchored, e.token(t, id).AnchorStatus)
}

func TestRetireAndTransferRace(t *testing.T) {
	e := newEnv(t, config.AnchorAsync)
	id := e.credit(t, owner.ID, domain.CreditActive)

	var wg sync.WaitGroup
	var retireErr, transferErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, retireErr = e.svc.RetireCredit(context.Background(), owner, id, "offset", nil)
	}()
	go func() {
		defer wg.Done()
		_, transferErr = e.svc.TransferCredits(context.Background(), owner, []uuid.UUID{id}, holder.ID)
	}()
	wg.Wait()

	if retireErr == nil {
		assert.Equal(t, domain.RetiredTokenError, domain.KindOf(transferErr))
		assert.Equal(t, owner.ID, e.token(t, id).Owner)
	} else {
		require.NoError(t, transferErr)
		assert.Equal(t, domain.OwnershipError, domain.KindOf(retireErr))
		assert.False(t, e.token(t, id).Retired)
	}
}
