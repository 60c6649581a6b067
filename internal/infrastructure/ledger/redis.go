package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ogcr-registry/internal/domain"

	"github.com/redis/go-redis/v9"
)

// anchorScript appends one entry to the ledger stream unless the idempotency key has
// already been used, in which case the stored receipt is returned unchanged.
// KEYS: stream, idempotency key, height counter. Receipt: "<stream id>|<block>|<ts>|<hash>".
var anchorScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[2])
if existing then
  return existing
end
local height = tostring(redis.call('INCR', KEYS[3]))
local id = redis.call('XADD', KEYS[1], '*',
  'document_id', ARGV[1], 'hash', ARGV[2], 'event_type', ARGV[3], 'actor', ARGV[4],
  'timestamp', ARGV[5], 'idempotency_key', ARGV[6], 'metadata', ARGV[7], 'block_number', height)
local receipt = id .. '|' .. height .. '|' .. ARGV[5] .. '|' .. ARGV[2]
redis.call('SET', KEYS[2], receipt)
return receipt
`)

// RedisLedger anchors into a Redis Stream. The stream is append-only; block numbers
// come from a per-ledger counter incremented in the same script as the append.
type RedisLedger struct {
	rdb    *redis.Client
	id     string
	prefix string
}

// NewRedisLedger uses keys under "ogcr:ledger:<ledgerID>".
func NewRedisLedger(rdb *redis.Client, ledgerID string) *RedisLedger {
	return &RedisLedger{rdb: rdb, id: ledgerID, prefix: "ogcr:ledger:" + ledgerID}
}

func (l *RedisLedger) streamKey() string         { return l.prefix + ":stream" }
func (l *RedisLedger) heightKey() string         { return l.prefix + ":height" }
func (l *RedisLedger) idemKey(key string) string { return l.prefix + ":idem:" + key }

func (l *RedisLedger) Anchor(ctx context.Context, req Request) (domain.LedgerReference, error) {
	meta := []byte("{}")
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return domain.LedgerReference{}, fmt.Errorf("ledger: metadata: %w", err)
		}
		meta = b
	}
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := anchorScript.Run(ctx, l.rdb,
		[]string{l.streamKey(), l.idemKey(req.IdempotencyKey), l.heightKey()},
		req.DocumentID, req.Hash, req.EventType, req.Actor, ts, req.IdempotencyKey, string(meta),
	).Text()
	if err != nil {
		if ctx.Err() != nil {
			return domain.LedgerReference{}, ctxErr(ctx.Err())
		}
		return domain.LedgerReference{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ref, hash, err := l.parseReceipt(res)
	if err != nil {
		return domain.LedgerReference{}, err
	}
	if hash != req.Hash {
		return domain.LedgerReference{}, ErrKeyConflict
	}
	return ref, nil
}

func (l *RedisLedger) Lookup(ctx context.Context, idempotencyKey string) (*Entry, error) {
	receipt, err := l.rdb.Get(ctx, l.idemKey(idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ctxErr(err)
	}
	ref, _, err := l.parseReceipt(receipt)
	if err != nil {
		return nil, err
	}
	msgs, err := l.rdb.XRange(ctx, l.streamKey(), ref.TransactionID, ref.TransactionID).Result()
	if err != nil {
		return nil, ctxErr(err)
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	e := &Entry{Reference: ref}
	fields := msgs[0].Values
	e.DocumentID = str(fields["document_id"])
	e.Hash = str(fields["hash"])
	e.EventType = str(fields["event_type"])
	e.Actor = str(fields["actor"])
	e.IdempotencyKey = str(fields["idempotency_key"])
	if ts, err := time.Parse(time.RFC3339Nano, str(fields["timestamp"])); err == nil {
		e.Timestamp = ts
	}
	if m := str(fields["metadata"]); m != "" {
		_ = json.Unmarshal([]byte(m), &e.Metadata)
	}
	return e, nil
}

func (l *RedisLedger) Healthy(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Height returns the number of anchored entries.
func (l *RedisLedger) Height(ctx context.Context) (int64, error) {
	n, err := l.rdb.Get(ctx, l.heightKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (l *RedisLedger) parseReceipt(s string) (domain.LedgerReference, string, error) {
	parts := strings.SplitN(s, "|", 4)
	if len(parts) != 4 {
		return domain.LedgerReference{}, "", fmt.Errorf("ledger: malformed receipt %q", s)
	}
	block, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return domain.LedgerReference{}, "", fmt.Errorf("ledger: malformed block number: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return domain.LedgerReference{}, "", fmt.Errorf("ledger: malformed timestamp: %w", err)
	}
	return domain.LedgerReference{
		TransactionID: parts[0],
		BlockNumber:   block,
		Timestamp:     &ts,
		LedgerID:      l.id,
	}, parts[3], nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
