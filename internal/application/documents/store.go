// Package documents is the document store: every committed lifecycle event is kept as
// an immutable version row holding the canonical snapshot and its hash.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/ledger"
	"ogcr-registry/internal/pkg/canonical"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrStale is returned by Advance when the row moved past the expected version.
var ErrStale = errors.New("documents: stale version")

// Change is one lifecycle event to record.
type Change struct {
	DocumentID uuid.UUID
	Kind       domain.DocumentKind
	Version    int64
	Status     string
	EventType  string
	ActorID    string
	Snapshot   interface{}
	Metadata   map[string]interface{}
	// Anchor marks the version for the ledger; unanchored versions (draft edits) are
	// history only.
	Anchor bool
	// IdempotencyKey overrides the default key when it was fixed before the commit.
	IdempotencyKey string
}

// Append canonicalizes and hashes the snapshot and writes the version row in tx.
// Anchored rows start in pending_anchor; the anchoring service confirms them.
func Append(tx *gorm.DB, ch Change) (*domain.DocumentVersion, error) {
	hash, body, err := canonical.Hash(ch.Snapshot)
	if err != nil {
		log.Error().Err(err).Str("document_id", ch.DocumentID.String()).Str("event", ch.EventType).
			Msg("canonicalization failed")
		return nil, err
	}
	var meta datatypes.JSON
	if len(ch.Metadata) > 0 {
		b, err := json.Marshal(ch.Metadata)
		if err != nil {
			return nil, domain.Wrap(domain.SerializationError, "version metadata", err)
		}
		meta = datatypes.JSON(b)
	}
	v := &domain.DocumentVersion{
		DocumentID:     ch.DocumentID,
		DocumentKind:   ch.Kind,
		Version:        ch.Version,
		Status:         ch.Status,
		EventType:      ch.EventType,
		ActorID:        ch.ActorID,
		ContentHash:    hash,
		Snapshot:       datatypes.JSON(body),
		Metadata:       meta,
		IdempotencyKey: ch.IdempotencyKey,
	}
	if v.IdempotencyKey == "" {
		v.IdempotencyKey = ledger.IdempotencyKey(ch.DocumentID.String(), ch.EventType, ch.Version)
	}
	if ch.Anchor {
		v.AnchorStatus = domain.AnchorPending
	}
	if err := tx.Create(v).Error; err != nil {
		if IsDuplicate(err) {
			return nil, domain.NewError(domain.IdempotencyError, "transition already recorded", map[string]interface{}{
				"idempotency_key": v.IdempotencyKey,
			})
		}
		return nil, err
	}
	return v, nil
}

// IsDuplicate reports a unique-constraint violation, translated or not.
func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// Advance is the optimistic compare-and-swap on a document row: updates apply only
// if the row is still at version, and the version is bumped by one.
func Advance(tx *gorm.DB, model interface{}, keyColumn string, id uuid.UUID, version int64, updates map[string]interface{}) error {
	updates["version"] = version + 1
	res := tx.Model(model).Where(keyColumn+" = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// Store reads version history.
type Store struct {
	DB *gorm.DB
}

// Versions returns the history of a document, oldest first.
func (s *Store) Versions(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentVersion, error) {
	var out []domain.DocumentVersion
	err := s.DB.WithContext(ctx).Where("document_id = ?", documentID).Order("version ASC").Find(&out).Error
	return out, err
}

// Version returns one recorded version.
func (s *Store) Version(ctx context.Context, documentID uuid.UUID, version int64) (*domain.DocumentVersion, error) {
	var v domain.DocumentVersion
	err := s.DB.WithContext(ctx).Where("document_id = ? AND version = ?", documentID, version).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound(domain.DocumentKind("version"), fmt.Sprintf("%s@%d", documentID, version))
	}
	return &v, err
}

// Pending returns versions still waiting for ledger confirmation, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]domain.DocumentVersion, error) {
	var out []domain.DocumentVersion
	q := s.DB.WithContext(ctx).Where("anchor_status = ?", domain.AnchorPending).Order(`"createdAt" ASC`)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// IntegrityReport is the result of re-checking one version against its hash and the ledger.
type IntegrityReport struct {
	Version       int64  `json:"version"`
	EventType     string `json:"event_type"`
	StoredHash    string `json:"stored_hash"`
	RecomputedOK  bool   `json:"recomputed_ok"`
	AnchorStatus  string `json:"anchor_status"`
	LedgerHash    string `json:"ledger_hash,omitempty"`
	LedgerMatches bool   `json:"ledger_matches"`
}

// VerifyIntegrity recomputes every version's hash from its snapshot and compares it with
// the hash recorded on the ledger under the version's idempotency key.
func (s *Store) VerifyIntegrity(ctx context.Context, documentID uuid.UUID, anchor ledger.Anchor) ([]IntegrityReport, error) {
	versions, err := s.Versions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.NewNotFound(domain.DocumentKind("document"), documentID.String())
	}
	out := make([]IntegrityReport, 0, len(versions))
	for _, v := range versions {
		r := IntegrityReport{
			Version:      v.Version,
			EventType:    v.EventType,
			StoredHash:   v.ContentHash,
			AnchorStatus: string(v.AnchorStatus),
		}
		if h, _, err := canonical.Hash([]byte(v.Snapshot)); err == nil {
			r.RecomputedOK = h == v.ContentHash
		}
		if anchor != nil {
			e, err := anchor.Lookup(ctx, v.IdempotencyKey)
			switch {
			case err == nil:
				r.LedgerHash = e.Hash
				r.LedgerMatches = e.Hash == v.ContentHash
			case !errors.Is(err, ledger.ErrNotFound):
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Page is a limit/offset window. Limit is clamped to 1..100 and defaults to 20.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
