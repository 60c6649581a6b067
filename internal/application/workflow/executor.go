// Package workflow runs one state change of a registry document: locks, the
// transaction that re-checks and writes it, the version row, and the ledger anchor
// under the configured policy.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/metrics"
	"ogcr-registry/internal/pkg/canonical"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Result is returned by every mutating operation.
type Result struct {
	ID              uuid.UUID               `json:"id"`
	Status          string                  `json:"status"`
	Version         int64                   `json:"version"`
	ContentHash     string                  `json:"content_hash"`
	AnchorStatus    domain.AnchorStatus     `json:"anchor_status,omitempty"`
	LedgerReference *domain.LedgerReference `json:"ledger_reference"`
}

// Transition is one state change. Prepare runs inside the transaction with every lock
// in Locks held; it re-reads the document, checks preconditions and returns what to
// write. Prepare must not write: in synchronous mode it also runs as a dry run.
type Transition struct {
	Kind    domain.DocumentKind
	ID      uuid.UUID
	Event   string
	Actor   domain.Actor
	Locks   []string
	Anchor  bool
	Prepare func(tx *gorm.DB) (*Outcome, error)
}

type Outcome struct {
	Version  int64
	Status   string
	Snapshot interface{}
	Metadata map[string]interface{}
	// Write persists the document rows; v carries the new version's hash.
	Write func(tx *gorm.DB, v *domain.DocumentVersion) error
}

// Batch versions several documents under one event in a single commit, for operations
// such as a transfer that must move every token or none.
type Batch struct {
	Event   string
	Actor   domain.Actor
	Locks   []string
	Anchor  bool
	Prepare func(tx *gorm.DB) (*BatchOutcome, error)
}

type BatchOutcome struct {
	// Changes lists the new versions; Event, ActorID and Anchor are filled from the batch.
	Changes []documents.Change
	// Write persists the document rows; versions line up with Changes.
	Write func(tx *gorm.DB, versions []*domain.DocumentVersion) error
}

type Executor struct {
	DB      *gorm.DB
	Locks   locks.Locker
	Anchors *anchoring.Service
	Metrics *metrics.Metrics
	Now     func() time.Time
}

var errDryRun = errors.New("workflow: dry run")

// Run executes a transition under the configured anchoring policy.
//
// async: commit with anchor_status=pending_anchor, release locks, then anchor. A
// failed anchor or receipt write leaves the version pending for reconciliation and is
// not an error.
// sync: dry-run the transition, anchor the planned version without locks, then
// commit only if the transition still produces the same hash.
func (x *Executor) Run(ctx context.Context, t Transition) (*Result, error) {
	out, err := x.RunBatch(ctx, Batch{
		Event:  t.Event,
		Actor:  t.Actor,
		Locks:  t.Locks,
		Anchor: t.Anchor,
		Prepare: func(tx *gorm.DB) (*BatchOutcome, error) {
			o, err := t.Prepare(tx)
			if err != nil {
				return nil, err
			}
			return &BatchOutcome{
				Changes: []documents.Change{{
					DocumentID: t.ID,
					Kind:       t.Kind,
					Version:    o.Version,
					Status:     o.Status,
					Snapshot:   o.Snapshot,
					Metadata:   o.Metadata,
				}},
				Write: func(tx *gorm.DB, vs []*domain.DocumentVersion) error {
					return o.Write(tx, vs[0])
				},
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// RunBatch is Run for several documents. Versions are anchored one by one after the
// commit; in synchronous mode every planned version is anchored before it.
func (x *Executor) RunBatch(ctx context.Context, b Batch) ([]Result, error) {
	if b.Anchor && x.Anchors != nil && x.Anchors.Synchronous() {
		return x.runSync(ctx, b)
	}
	versions, err := x.commit(ctx, b, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(versions))
	for i, v := range versions {
		out[i] = Result{ID: v.DocumentID, Status: v.Status, Version: v.Version, ContentHash: v.ContentHash, AnchorStatus: v.AnchorStatus}
	}
	if !b.Anchor || x.Anchors == nil {
		return out, nil
	}
	for i, v := range versions {
		ref, err := x.Anchors.Settle(ctx, v)
		if err != nil {
			// The transition is committed; the version stays pending_anchor for
			// ReconcilePending whatever the anchor or receipt failure was.
			log.Warn().Err(err).Str("document_id", v.DocumentID.String()).Str("event", b.Event).
				Str("kind", string(domain.KindOf(err))).Msg("committed transition awaiting anchor")
			continue
		}
		out[i].AnchorStatus = domain.AnchorAnchored
		out[i].LedgerReference = ref
	}
	return out, nil
}

func (x *Executor) runSync(ctx context.Context, b Batch) ([]Result, error) {
	var planned []*domain.DocumentVersion
	err := x.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := b.Prepare(tx)
		if err != nil {
			return err
		}
		planned = planned[:0]
		for _, ch := range o.Changes {
			hash, _, err := canonical.Hash(ch.Snapshot)
			if err != nil {
				return err
			}
			var meta datatypes.JSON
			if len(ch.Metadata) > 0 {
				meta, _ = json.Marshal(ch.Metadata)
			}
			planned = append(planned, &domain.DocumentVersion{
				DocumentID:     ch.DocumentID,
				DocumentKind:   ch.Kind,
				Version:        ch.Version,
				Status:         ch.Status,
				EventType:      b.Event,
				ActorID:        b.Actor.ID,
				ContentHash:    hash,
				Metadata:       meta,
				IdempotencyKey: ledger.ContentKey(ch.DocumentID.String(), b.Event, ch.Version, hash),
				CreatedAt:      x.now(),
			})
		}
		return errDryRun
	})
	if !errors.Is(err, errDryRun) {
		return nil, err
	}

	refs := make([]domain.LedgerReference, len(planned))
	for i, p := range planned {
		ref, err := x.Anchors.Anchor(ctx, anchoring.RequestFor(p))
		if err != nil {
			x.Metrics.IncAnchorOutcome("rejected")
			return nil, err
		}
		refs[i] = ref
	}
	versions, err := x.commit(ctx, b, planned, refs)
	if err != nil {
		for i, p := range planned {
			log.Warn().Err(err).Str("document_id", p.DocumentID.String()).Str("event", b.Event).
				Str("transaction_id", refs[i].TransactionID).Msg("anchored transition was not committed")
		}
		return nil, err
	}
	out := make([]Result, len(versions))
	for i, v := range versions {
		out[i] = Result{
			ID:              v.DocumentID,
			Status:          v.Status,
			Version:         v.Version,
			ContentHash:     v.ContentHash,
			AnchorStatus:    domain.AnchorAnchored,
			LedgerReference: refs[i].Ptr(),
		}
	}
	return out, nil
}

// commit runs Prepare and the writes in one transaction with the locks held. With
// planned versions and their receipts, each version must reproduce the anchored hash
// under the anchored key and is confirmed in the same transaction.
func (x *Executor) commit(ctx context.Context, b Batch, planned []*domain.DocumentVersion, refs []domain.LedgerReference) ([]*domain.DocumentVersion, error) {
	release, err := x.Locks.AcquireAll(ctx, b.Locks...)
	if err != nil {
		return nil, domain.Wrap(domain.ConflictError, "could not acquire document lock", err)
	}
	defer release()

	var versions []*domain.DocumentVersion
	err = x.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := b.Prepare(tx)
		if err != nil {
			return err
		}
		if planned != nil && len(o.Changes) != len(planned) {
			return changedWhileAnchoring(b, o.Changes)
		}
		versions = make([]*domain.DocumentVersion, 0, len(o.Changes))
		for i, ch := range o.Changes {
			ch.EventType = b.Event
			ch.ActorID = b.Actor.ID
			ch.Anchor = b.Anchor
			if planned != nil {
				ch.IdempotencyKey = planned[i].IdempotencyKey
			}
			v, err := documents.Append(tx, ch)
			if err != nil {
				return err
			}
			if planned != nil && v.ContentHash != planned[i].ContentHash {
				return changedWhileAnchoring(b, o.Changes)
			}
			versions = append(versions, v)
		}
		if err := o.Write(tx, versions); err != nil {
			if errors.Is(err, documents.ErrStale) {
				return domain.NewError(domain.InvalidTransitionError, "document was modified concurrently", map[string]interface{}{
					"document_id": documentIDs(o.Changes),
					"action":      b.Event,
				})
			}
			return err
		}
		for i := range refs {
			if err := x.Anchors.ConfirmTx(tx, versions[i], refs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		x.Metrics.IncTransition(string(v.DocumentKind), b.Event)
		log.Info().Str("document_id", v.DocumentID.String()).Str("kind", string(v.DocumentKind)).Str("event", b.Event).
			Str("status", v.Status).Int64("version", v.Version).Str("actor_id", b.Actor.ID).
			Str("content_hash", v.ContentHash).Msg("transition committed")
	}
	return versions, nil
}

func changedWhileAnchoring(b Batch, changes []documents.Change) error {
	return domain.NewError(domain.ConflictError, "document changed while the transition was being anchored", map[string]interface{}{
		"document_id": documentIDs(changes),
		"event":       b.Event,
	})
}

// documentIDs is a single id for one change and a list otherwise.
func documentIDs(changes []documents.Change) interface{} {
	if len(changes) == 1 {
		return changes[0].DocumentID.String()
	}
	ids := make([]string, len(changes))
	for i, ch := range changes {
		ids[i] = ch.DocumentID.String()
	}
	return ids
}

func (x *Executor) now() time.Time {
	if x.Now != nil {
		return x.Now().UTC()
	}
	return time.Now().UTC()
}

// VersionColumns are the document columns written with every new version.
func VersionColumns(v *domain.DocumentVersion) map[string]interface{} {
	return map[string]interface{}{
		"content_hash":  v.ContentHash,
		"anchor_status": v.AnchorStatus,
	}
}

// ConfirmRow copies a ledger receipt onto the document row only while the row is still
// at the anchored version; a later version keeps its own anchor state.
func ConfirmRow(model interface{}, keyColumn string) anchoring.ConfirmFunc {
	return func(tx *gorm.DB, v *domain.DocumentVersion, ref domain.LedgerReference) error {
		return tx.Model(model).Where(keyColumn+" = ? AND version = ?", v.DocumentID, v.Version).
			Updates(ReceiptColumns(ref)).Error
	}
}

// ReceiptColumns are the anchored state and embedded ledger_* columns of a receipt.
func ReceiptColumns(ref domain.LedgerReference) map[string]interface{} {
	return map[string]interface{}{
		"anchor_status":         domain.AnchorAnchored,
		"ledger_transaction_id": ref.TransactionID,
		"ledger_block_number":   ref.BlockNumber,
		"ledger_timestamp":      ref.Timestamp,
		"ledger_ledger_id":      ref.LedgerID,
	}
}
