// Package idempotency implements the guard of spec §4.C: a fast-path check
// against already-applied operation ids, with the authoritative guarantee
// resting on invariant (3) — debit, credit, and idempotency record are
// either all present or all absent, enforced by recording inside the same
// atomic batch as the balance updates (internal/ledger), never as a
// standalone write.
//
// Grounded on the shape of the pack's in-memory idempotency caches (e.g. the
// TTL'd key->outcome cache pattern used for campaign-control operations),
// generalised here to a Redis-backed guard so it survives across worker
// processes.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/resultkind"
)

// Guard records and recognises already-processed operation identifiers.
type Guard struct {
	store kvstore.Store
}

func New(store kvstore.Store) *Guard {
	return &Guard{store: store}
}

func appliedKey(opID string) string {
	return "applied:" + opID
}

// Check consults the guard outside any transaction. It is a fast path only;
// a concurrent duplicate racing between Check and the atomic commit is
// caught by the watched transaction in internal/ledger, not here.
func (g *Guard) Check(ctx context.Context, opID string) (outcome resultkind.Outcome, applied bool, err error) {
	raw, ok, err := g.store.Get(ctx, appliedKey(opID))
	if err != nil {
		return resultkind.Outcome{}, false, fmt.Errorf("idempotency: check %s: %w", opID, err)
	}
	if !ok {
		return resultkind.Outcome{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return resultkind.Outcome{}, false, fmt.Errorf("idempotency: decode %s: %w", opID, err)
	}
	return outcome, true, nil
}

// RecordInto enqueues the idempotency record into an in-flight watched
// transaction. It must never be called outside one: spec §4.C requires the
// record to commit atomically with the balance writes it guards.
func RecordInto(tx *kvstore.Tx, opID string, outcome resultkind.Outcome, ttl time.Duration) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("idempotency: encode %s: %w", opID, err)
	}
	tx.QueueSet(appliedKey(opID), string(data), ttl)
	return nil
}

// CheckInTx performs the same lookup as Check, but from inside a watched
// transaction (spec §4.D step 2: "If get(applied:op_id) returns a value,
// abort the transaction").
func CheckInTx(tx *kvstore.Tx, opID string) (outcome resultkind.Outcome, applied bool, err error) {
	raw, ok, err := tx.Get(appliedKey(opID))
	if err != nil {
		return resultkind.Outcome{}, false, fmt.Errorf("idempotency: check %s: %w", opID, err)
	}
	if !ok {
		return resultkind.Outcome{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return resultkind.Outcome{}, false, fmt.Errorf("idempotency: decode %s: %w", opID, err)
	}
	return outcome, true, nil
}
