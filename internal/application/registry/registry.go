// Package registry assembles the engine: the lifecycle, issuance and credit services
// share one store, lock manager and ledger adapter, and verification is forwarded to
// issuance through the event dispatcher.
package registry

import (
	"context"
	"time"

	"ogcr-registry/internal/application/access"
	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/conflicts"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/application/events"
	"ogcr-registry/internal/application/holdings"
	"ogcr-registry/internal/application/issuance"
	"ogcr-registry/internal/application/lifecycle"
	"ogcr-registry/internal/application/retirements"
	"ogcr-registry/internal/application/trading"
	"ogcr-registry/internal/application/transactions"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/infrastructure/methodology"
	"ogcr-registry/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Options are the collaborators and policy of one registry instance.
type Options struct {
	DB            *gorm.DB
	Ledger        ledger.Anchor
	Locks         locks.Locker
	Methodologies *methodology.Registry
	Engines       *methodology.Engines
	Metrics       *metrics.Metrics

	AnchorMode    string
	AnchorTimeout time.Duration
	AnchorRetries int
	AnchorBackoff time.Duration

	BufferRate      decimal.Decimal
	CreditUnitSize  decimal.Decimal
	CreditPrecision int32

	Now func() time.Time
}

// OptionsFromConfig copies the policy settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AnchorMode:      cfg.AnchorMode,
		AnchorTimeout:   cfg.AnchorTimeout,
		AnchorRetries:   cfg.AnchorRetries,
		AnchorBackoff:   200 * time.Millisecond,
		BufferRate:      cfg.BufferRate,
		CreditUnitSize:  cfg.CreditUnitSize,
		CreditPrecision: cfg.CreditPrecision,
	}
}

type Registry struct {
	Lifecycle     *lifecycle.Service
	Issuance      *issuance.Service
	Trading       *trading.Service
	Holdings      *holdings.Service
	Retirements   *retirements.Service
	Transactions  *transactions.Service
	Anchors       *anchoring.Service
	Documents     *documents.Store
	Methodologies *methodology.Registry
	Events        *events.Dispatcher
	Ledger        ledger.Anchor
}

func New(o Options) *Registry {
	if o.Locks == nil {
		o.Locks = locks.NewLocalLocker()
	}
	if o.Engines == nil {
		o.Engines = methodology.NewEngines()
	}
	if o.Methodologies == nil {
		o.Methodologies = methodology.NewRegistry(o.DB)
	}
	anchors := &anchoring.Service{
		DB:      o.DB,
		Ledger:  o.Ledger,
		Mode:    o.AnchorMode,
		Timeout: o.AnchorTimeout,
		Retries: o.AnchorRetries,
		Backoff: o.AnchorBackoff,
		Metrics: o.Metrics,
	}
	r := &Registry{
		Lifecycle: &lifecycle.Service{
			DB:            o.DB,
			Locks:         o.Locks,
			Anchors:       anchors,
			Conflicts:     &conflicts.Detector{},
			Methodologies: o.Methodologies,
			Engines:       o.Engines,
			Metrics:       o.Metrics,
			Now:           o.Now,
		},
		Issuance: &issuance.Service{
			DB:         o.DB,
			Locks:      o.Locks,
			Anchors:    anchors,
			Metrics:    o.Metrics,
			BufferRate: o.BufferRate,
			UnitSize:   o.CreditUnitSize,
			Precision:  o.CreditPrecision,
			Now:        o.Now,
		},
		Trading:       &trading.Service{DB: o.DB, Locks: o.Locks, Anchors: anchors, Metrics: o.Metrics, Now: o.Now},
		Holdings:      &holdings.Service{DB: o.DB},
		Retirements:   &retirements.Service{DB: o.DB},
		Transactions:  &transactions.Service{DB: o.DB},
		Anchors:       anchors,
		Documents:     &documents.Store{DB: o.DB},
		Methodologies: o.Methodologies,
		Events:        events.NewDispatcher(),
		Ledger:        o.Ledger,
	}
	r.Lifecycle.Register()
	r.Issuance.Register()
	r.Trading.Register()
	r.Issuance.Subscribe(r.Events)
	return r
}

// Verification is the result of verifyMRV. Issuance failures do not undo the
// verification; they are reported and the batch can be issued later.
type Verification struct {
	lifecycle.Result
	Issuance      *domain.IssuanceBatch `json:"issuance,omitempty"`
	IssuanceError string                `json:"issuance_error,omitempty"`
}

// VerifyMRV records the verifier's outcome and, on approval, dispatches the
// MRVVerified event that triggers issuance.
func (r *Registry) VerifyMRV(ctx context.Context, actor domain.Actor, id uuid.UUID, in lifecycle.VerifyInput) (*Verification, error) {
	res, err := r.Lifecycle.VerifyMRV(ctx, actor, id, in)
	if err != nil {
		return nil, err
	}
	out := &Verification{Result: res.Result}
	if res.Event == nil {
		return out, nil
	}
	if err := r.Events.Dispatch(ctx, *res.Event); err != nil {
		log.Error().Err(err).Str("mrv_id", id.String()).Msg("issuance after verification failed")
		out.IssuanceError = err.Error()
		return out, nil
	}
	if b, err := r.Issuance.BatchFor(ctx, id); err == nil {
		out.Issuance = b
	}
	return out, nil
}

// Integrity re-checks a document's stored hashes against its snapshots and the ledger.
func (r *Registry) Integrity(ctx context.Context, id uuid.UUID) ([]documents.IntegrityReport, error) {
	return r.Documents.VerifyIntegrity(ctx, id, r.Ledger)
}

// Reconcile re-anchors versions left in pending_anchor.
func (r *Registry) Reconcile(ctx context.Context, actor domain.Actor, limit int) (*anchoring.ReconcileResult, error) {
	if err := access.Require(actor, constants.Reconcile); err != nil {
		return nil, err
	}
	return r.Anchors.ReconcilePending(ctx, reconcileLimit(limit), 4)
}

const (
	defaultReconcileLimit = 500
	maxReconcileLimit     = 5000
)

// reconcileLimit defaults an unset limit and caps large ones.
func reconcileLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultReconcileLimit
	case limit > maxReconcileLimit:
		return maxReconcileLimit
	}
	return limit
}
