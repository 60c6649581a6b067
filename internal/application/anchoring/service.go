// Package anchoring moves committed versions onto the ledger: bounded retries with a
// per-attempt timeout, confirmation of receipts, and reconciliation of versions left
// in pending_anchor.
package anchoring

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ConfirmFunc copies a ledger receipt onto the owning document rows. It runs inside the
// transaction that marks the version anchored.
type ConfirmFunc func(tx *gorm.DB, v *domain.DocumentVersion, ref domain.LedgerReference) error

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Anchor
	Mode    string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Metrics *metrics.Metrics

	mu       sync.RWMutex
	confirms map[domain.DocumentKind]ConfirmFunc
}

// OnConfirm registers the receipt handler of a document kind.
func (s *Service) OnConfirm(kind domain.DocumentKind, fn ConfirmFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirms == nil {
		s.confirms = map[domain.DocumentKind]ConfirmFunc{}
	}
	s.confirms[kind] = fn
}

// Synchronous reports whether transitions commit only after the anchor succeeds.
func (s *Service) Synchronous() bool {
	return s.Mode == config.AnchorSync
}

// RequestFor builds the ledger request of a recorded version.
func RequestFor(v *domain.DocumentVersion) ledger.Request {
	meta := map[string]interface{}{}
	if len(v.Metadata) > 0 {
		_ = json.Unmarshal(v.Metadata, &meta)
	}
	meta["document_kind"] = string(v.DocumentKind)
	meta["status"] = v.Status
	meta["version"] = v.Version
	return ledger.Request{
		DocumentID:     v.DocumentID.String(),
		Hash:           v.ContentHash,
		EventType:      v.EventType,
		Actor:          v.ActorID,
		Timestamp:      v.CreatedAt,
		Metadata:       meta,
		IdempotencyKey: v.IdempotencyKey,
	}
}

// Anchor calls the ledger up to Retries times, each attempt bounded by Timeout.
// Exhausting the budget yields an AnchoringTimeoutError; reuse of an idempotency key
// for a different hash is a SerializationError.
func (s *Service) Anchor(ctx context.Context, req ledger.Request) (domain.LedgerReference, error) {
	attempts := s.Retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && s.Backoff > 0 {
			t := time.NewTimer(s.Backoff * time.Duration(i))
			select {
			case <-ctx.Done():
				t.Stop()
				return domain.LedgerReference{}, s.timeout(req, ctx.Err())
			case <-t.C:
			}
		}
		start := time.Now()
		actx, cancel := s.attemptContext(ctx)
		ref, err := s.Ledger.Anchor(actx, req)
		cancel()
		if err == nil {
			s.Metrics.ObserveAnchor(start, "anchored")
			return ref, nil
		}
		s.Metrics.ObserveAnchor(start, "failed")
		if errors.Is(err, ledger.ErrKeyConflict) {
			log.Error().Err(err).Str("document_id", req.DocumentID).Str("idempotency_key", req.IdempotencyKey).
				Msg("ledger holds a different hash for this transition")
			return domain.LedgerReference{}, domain.Wrap(domain.SerializationError, "ledger holds a different hash for this transition", err)
		}
		lastErr = err
		log.Warn().Err(err).Str("document_id", req.DocumentID).Str("event", req.EventType).
			Int("attempt", i+1).Msg("anchor attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return domain.LedgerReference{}, s.timeout(req, lastErr)
}

func (s *Service) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) timeout(req ledger.Request, err error) *domain.Error {
	e := domain.Wrap(domain.AnchoringTimeoutError, "ledger anchoring did not complete", err)
	e.Details = map[string]interface{}{
		"document_id":     req.DocumentID,
		"event_type":      req.EventType,
		"idempotency_key": req.IdempotencyKey,
		"anchor_status":   string(domain.AnchorPending),
	}
	return e
}

// Confirm marks a version anchored and hands the receipt to the owner's handler.
func (s *Service) Confirm(ctx context.Context, v *domain.DocumentVersion, ref domain.LedgerReference) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ConfirmTx(tx, v, ref)
	})
}

// ConfirmTx is Confirm inside an existing transaction.
func (s *Service) ConfirmTx(tx *gorm.DB, v *domain.DocumentVersion, ref domain.LedgerReference) error {
	res := tx.Model(&domain.DocumentVersion{}).
		Where("id = ? AND anchor_status = ?", v.ID, domain.AnchorPending).
		Updates(map[string]interface{}{
			"anchor_status":         domain.AnchorAnchored,
			"ledger_transaction_id": ref.TransactionID,
			"ledger_block_number":   ref.BlockNumber,
			"ledger_timestamp":      ref.Timestamp,
			"ledger_ledger_id":      ref.LedgerID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// already confirmed by a concurrent reconciler
		return nil
	}
	v.AnchorStatus = domain.AnchorAnchored
	v.Ledger = ref
	s.mu.RLock()
	fn := s.confirms[v.DocumentKind]
	s.mu.RUnlock()
	if fn != nil {
		return fn(tx, v, ref)
	}
	return nil
}

// Settle anchors a committed version and confirms it. On failure the version stays
// pending_anchor for ReconcilePending and the AnchoringTimeoutError is returned.
func (s *Service) Settle(ctx context.Context, v *domain.DocumentVersion) (*domain.LedgerReference, error) {
	ref, err := s.Anchor(ctx, RequestFor(v))
	if err != nil {
		s.recordAttempt(v)
		s.Metrics.IncAnchorOutcome("pending")
		log.Warn().Err(err).Str("document_id", v.DocumentID.String()).Str("event", v.EventType).
			Msg("transition left pending_anchor")
		return nil, err
	}
	// The receipt must be stored even if the caller has gone away.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Confirm(cctx, v, ref); err != nil {
		log.Error().Err(err).Str("document_id", v.DocumentID.String()).Msg("failed to record ledger receipt")
		return nil, err
	}
	return &ref, nil
}

func (s *Service) recordAttempt(v *domain.DocumentVersion) {
	err := s.DB.Model(&domain.DocumentVersion{}).Where("id = ?", v.ID).
		UpdateColumn("anchor_attempts", gorm.Expr("anchor_attempts + ?", 1)).Error
	if err != nil {
		log.Warn().Err(err).Str("version_id", v.ID.String()).Msg("failed to record anchor attempt")
	}
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Attempted int `json:"attempted"`
	Anchored  int `json:"anchored"`
	Pending   int `json:"pending"`
}

// ReconcilePending re-anchors versions left in pending_anchor with their original
// idempotency keys. Up to concurrency versions are anchored at once.
func (s *Service) ReconcilePending(ctx context.Context, limit, concurrency int) (*ReconcileResult, error) {
	store := &documents.Store{DB: s.DB}
	pending, err := store.Pending(ctx, limit)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 4
	}
	res := &ReconcileResult{Attempted: len(pending)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range pending {
		v := pending[i]
		g.Go(func() error {
			_, err := s.Settle(gctx, &v)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				res.Anchored++
				return nil
			}
			res.Pending++
			if domain.IsKind(err, domain.AnchoringTimeoutError) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	s.Metrics.SetPendingAnchors(res.Pending)
	log.Info().Int("attempted", res.Attempted).Int("anchored", res.Anchored).Int("pending", res.Pending).
		Msg("reconciliation pass finished")
	return res, nil
}

// Run reconciles on every tick until ctx is done.
func (s *Service) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ReconcilePending(ctx, 500, 4); err != nil {
				log.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}
