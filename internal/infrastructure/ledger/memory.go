package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"ogcr-registry/internal/domain"
)

// MemoryLedger is an in-process hash-chained log. Each entry commits to the previous
// entry's hash, so Verify detects any rewrite of history.
type MemoryLedger struct {
	mu      sync.RWMutex
	id      string
	entries []Entry
	byKey   map[string]int
	closed  bool

	// Latency simulates consensus delay; it honours the caller's context.
	Latency time.Duration
	// failures makes the next N Anchor calls return ErrUnavailable.
	failures int
}

// NewMemoryLedger returns an empty ledger identified by ledgerID.
func NewMemoryLedger(ledgerID string) *MemoryLedger {
	return &MemoryLedger{id: ledgerID, byKey: map[string]int{}}
}

// FailNext makes the next n anchor calls fail with ErrUnavailable.
func (l *MemoryLedger) FailNext(n int) {
	l.mu.Lock()
	l.failures = n
	l.mu.Unlock()
}

// SetLatency changes the simulated anchoring delay.
func (l *MemoryLedger) SetLatency(d time.Duration) {
	l.mu.Lock()
	l.Latency = d
	l.mu.Unlock()
}

func (l *MemoryLedger) Anchor(ctx context.Context, req Request) (domain.LedgerReference, error) {
	l.mu.RLock()
	delay := l.Latency
	l.mu.RUnlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.LedgerReference{}, ctxErr(ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.LedgerReference{}, ctxErr(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.LedgerReference{}, ErrUnavailable
	}
	if i, ok := l.byKey[req.IdempotencyKey]; ok {
		e := l.entries[i]
		if e.Hash != req.Hash {
			return domain.LedgerReference{}, ErrKeyConflict
		}
		return e.Reference, nil
	}
	if l.failures > 0 {
		l.failures--
		return domain.LedgerReference{}, ErrUnavailable
	}

	prev := ""
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].EntryHash
	}
	now := time.Now().UTC()
	block := uint64(len(l.entries) + 1)
	entryHash := chainHash(prev, block, req)
	e := Entry{
		Request:  req,
		PrevHash: prev,
		Reference: domain.LedgerReference{
			TransactionID: "0x" + entryHash,
			BlockNumber:   block,
			Timestamp:     &now,
			LedgerID:      l.id,
		},
		EntryHash: entryHash,
	}
	l.entries = append(l.entries, e)
	l.byKey[req.IdempotencyKey] = len(l.entries) - 1
	return e.Reference, nil
}

func (l *MemoryLedger) Lookup(ctx context.Context, idempotencyKey string) (*Entry, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byKey[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	e := l.entries[i]
	return &e, nil
}

func (l *MemoryLedger) Healthy(ctx context.Context) error {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrUnavailable
	}
	return nil
}

// Entries returns a copy of the log in append order.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesFor returns the entries anchored for one document.
func (l *MemoryLedger) EntriesFor(documentID string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}

// Verify recomputes the hash chain and returns the first broken block, or 0.
func (l *MemoryLedger) Verify() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := ""
	for _, e := range l.entries {
		if e.PrevHash != prev || chainHash(prev, e.Reference.BlockNumber, e.Request) != e.EntryHash {
			return e.Reference.BlockNumber
		}
		prev = e.EntryHash
	}
	return 0
}

// Close makes the ledger unavailable.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func chainHash(prev string, block uint64, req Request) string {
	h := sha256.New()
	for _, part := range []string{prev, strconv.FormatUint(block, 10), req.DocumentID, req.Hash, req.EventType, req.Actor, req.IdempotencyKey} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
