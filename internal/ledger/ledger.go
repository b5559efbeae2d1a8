// Package ledger implements the transfer primitive of spec §4.D: one attempt
// reads both wallets and the idempotency record inside a watched
// transaction, validates the debit, and queues the paired balance update and
// the idempotency record into the same commit batch. It never acquires the
// multi-key lock itself — internal/transfer acquires {from, to} before
// calling in, and the lock is what makes optimistic aborts here rare (they
// are expected only from a TTL-expired lease racing a new holder).
//
// All arithmetic uses github.com/shopspring/decimal, never float64 — spec
// §4.D is explicit that balance arithmetic must be exact fixed-point
// decimal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/idempotency"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/resultkind"
)

// Config is the subset of spec §6 configuration the primitive consumes
// directly: the commit retry bound, the idempotency retention TTL, and the
// balance scale.
type Config struct {
	TxMaxAttempts  int
	IdempotencyTTL time.Duration
	BalanceScale   int32
}

// abort is a business-rule rejection raised from inside a watched
// transaction body. It is distinct from an optimistic-concurrency abort
// (kvstore.Store.WatchedTx reports that as committed=false, err=nil) and
// from an infrastructure failure (a plain error): an abort means "no state
// was touched, do not retry this attempt, surface the kind directly."
type abort struct {
	kind resultkind.Kind
}

func (a *abort) Error() string { return "ledger: " + string(a.kind) }

func walletKey(userID string) string { return "wallet:" + userID }

// Primitive is the transactional transfer operation. It assumes the caller
// already holds the multi-key lock on {from, to}.
type Primitive struct {
	store kvstore.Store
}

func New(store kvstore.Store) *Primitive {
	return &Primitive{store: store}
}

// Transfer runs the commit-retry loop of spec §4.D step 3: up to
// cfg.TxMaxAttempts attempts, each a single watched transaction over
// wallet:from, wallet:to, and applied:op_id.
func (p *Primitive) Transfer(ctx context.Context, cmd models.Command, cfg Config) (resultkind.Result, error) {
	fromKey := walletKey(cmd.From)
	toKey := walletKey(cmd.To)

	for attempt := 0; attempt < cfg.TxMaxAttempts; attempt++ {
		var result resultkind.Result
		var settled bool

		committed, err := p.store.WatchedTx(ctx, []string{fromKey, toKey, "applied:" + cmd.OpID}, func(tx *kvstore.Tx) error {
			if outcome, applied, err := idempotency.CheckInTx(tx, cmd.OpID); err != nil {
				return err
			} else if applied {
				result = resultkind.FromOutcome(outcome, true)
				settled = true
				return nil
			}

			from, err := readWallet(tx, cmd.From, fromKey)
			if err != nil {
				return err
			}
			to, err := readWallet(tx, cmd.To, toKey)
			if err != nil {
				return err
			}

			if !from.IsActive() || !to.IsActive() {
				return &abort{kind: resultkind.WalletInactive}
			}
			// An amount with more fractional digits than BalanceScale would
			// need rounding, which the primitive never does.
			if !cmd.Amount.Truncate(cfg.BalanceScale).Equal(cmd.Amount) {
				return &abort{kind: resultkind.InvalidAmount}
			}
			if from.Balance.LessThan(cmd.Amount) {
				return &abort{kind: resultkind.InsufficientFunds}
			}

			newFrom := from.Balance.Sub(cmd.Amount)
			newTo := to.Balance.Add(cmd.Amount)

			tx.QueueHSet(fromKey, "balance", newFrom.StringFixed(cfg.BalanceScale))
			tx.QueueHSet(toKey, "balance", newTo.StringFixed(cfg.BalanceScale))

			outcome := resultkind.Outcome{Kind: resultkind.Applied, NewFrom: newFrom, NewTo: newTo}
			if err := idempotency.RecordInto(tx, cmd.OpID, outcome, cfg.IdempotencyTTL); err != nil {
				return err
			}

			result = resultkind.Result{Kind: resultkind.Applied, NewFrom: newFrom, NewTo: newTo}
			settled = true
			return nil
		})

		if err != nil {
			var ab *abort
			if errors.As(err, &ab) {
				return resultkind.Result{Kind: ab.kind}, nil
			}
			return resultkind.Result{}, fmt.Errorf("ledger: transfer %s: %w", cmd.OpID, err)
		}
		if !committed {
			continue // optimistic-concurrency abort: retry candidate
		}
		if settled {
			return result, nil
		}
		return resultkind.Result{}, fmt.Errorf("ledger: transfer %s: committed without a result", cmd.OpID)
	}

	return resultkind.Result{Kind: resultkind.ConcurrencyConflict}, nil
}

func readWallet(tx *kvstore.Tx, userID, key string) (models.Wallet, error) {
	fields, err := tx.HGetMulti(key, "balance", "currency", "status")
	if err != nil {
		return models.Wallet{}, err
	}
	balanceStr, hasBalance := fields["balance"]
	status, hasStatus := fields["status"]
	if !hasBalance || !hasStatus {
		return models.Wallet{}, &abort{kind: resultkind.WalletNotFound}
	}
	balance, err := decimalFromString(balanceStr)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("ledger: corrupt balance for %s: %w", userID, err)
	}
	return models.Wallet{
		UserID:   userID,
		Balance:  balance,
		Currency: fields["currency"],
		Status:   models.WalletStatus(status),
	}, nil
}

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
