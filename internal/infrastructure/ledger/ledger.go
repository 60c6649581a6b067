// Package ledger is the anchoring adapter: an append-only, externally verifiable log of
// (document id, content hash, lifecycle event) records.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"ogcr-registry/internal/domain"
)

var (
	ErrTimeout     = errors.New("ledger: anchor timed out")
	ErrUnavailable = errors.New("ledger: unavailable")
	ErrNotFound    = errors.New("ledger: entry not found")
	// ErrKeyConflict means an idempotency key was reused for a different hash.
	ErrKeyConflict = errors.New("ledger: idempotency key already used for another hash")
)

// Request is one anchoring call. Anchoring the same IdempotencyKey twice returns the
// first receipt and appends nothing.
type Request struct {
	DocumentID     string                 `json:"document_id"`
	Hash           string                 `json:"hash"`
	EventType      string                 `json:"event_type"`
	Actor          string                 `json:"actor"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// Entry is a recorded anchor with its receipt.
type Entry struct {
	Request
	Reference domain.LedgerReference `json:"ledger_reference"`
	PrevHash  string                 `json:"prev_hash,omitempty"`
	EntryHash string                 `json:"entry_hash,omitempty"`
}

// Anchor is implemented by every ledger backend.
type Anchor interface {
	Anchor(ctx context.Context, req Request) (domain.LedgerReference, error)
	// Lookup returns the entry recorded under an idempotency key, or ErrNotFound.
	Lookup(ctx context.Context, idempotencyKey string) (*Entry, error)
	Healthy(ctx context.Context) error
}

// IdempotencyKey is the anchoring key of one document transition.
func IdempotencyKey(documentID, eventType string, version int64) string {
	return documentID + ":" + eventType + ":" + strconv.FormatInt(version, 10)
}

// ContentKey is IdempotencyKey bound to one content hash. Synchronous anchoring writes
// the ledger before the commit, so an attempt that never committed must not hold the
// key of a later transition with different content.
func ContentKey(documentID, eventType string, version int64, hash string) string {
	return IdempotencyKey(documentID, eventType, version) + ":" + hash
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return err
}
