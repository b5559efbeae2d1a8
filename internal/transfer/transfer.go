// Package transfer implements the public entry point of spec §4.E: it
// canonicalises the request, consults the idempotency guard, acquires the
// multi-key lock, invokes the transfer primitive, and maps every outcome to
// one of the closed set of Result kinds. The lock and the primitive refer to
// each other only by contract; the orchestrator is the only thing that owns
// both (spec §9, "Cyclic/mutual references").
package transfer

import (
	"context"
	"errors"

	"wallet-transfer-engine/internal/idempotency"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/ledger"
	"wallet-transfer-engine/internal/lock"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/resultkind"
)

// Config bundles the lock and ledger configuration surfaces of spec §6.
type Config struct {
	Lock   lock.Config
	Ledger ledger.Config
}

// Orchestrator is the transfer engine's public entry point.
type Orchestrator struct {
	locks     *lock.Manager
	guard     *idempotency.Guard
	primitive *ledger.Primitive
	cfg       Config
}

func New(store kvstore.Store, cfg Config) *Orchestrator {
	return &Orchestrator{
		locks:     lock.New(store),
		guard:     idempotency.New(store),
		primitive: ledger.New(store),
		cfg:       cfg,
	}
}

// Transfer is the orchestrator's only public operation. It never returns a
// Go error: every outcome, including infrastructure failure, is one of the
// Result kinds in spec §6/§7.
func (o *Orchestrator) Transfer(ctx context.Context, cmd models.Command) resultkind.Result {
	if cmd.From != "" && cmd.From == cmd.To {
		return resultkind.Result{Kind: resultkind.SameUserTransfer}
	}
	if cmd.OpID == "" || cmd.From == "" || cmd.To == "" || !cmd.Amount.IsPositive() {
		return resultkind.Result{Kind: resultkind.InvalidRequest}
	}

	if outcome, applied, err := o.guard.Check(ctx, cmd.OpID); err != nil {
		return resultkind.Result{Kind: resultkind.Unavailable, Err: err}
	} else if applied {
		return resultkind.FromOutcome(outcome, true)
	}

	lease, err := o.locks.Acquire(ctx, []string{cmd.From, cmd.To}, o.cfg.Lock)
	if err != nil {
		if errors.Is(err, lock.ErrUnavailable) {
			return resultkind.Result{Kind: resultkind.LockUnavailable}
		}
		return resultkind.Result{Kind: resultkind.Unavailable, Err: err}
	}
	// Release unconditionally on exit, even if the caller's context was
	// cancelled — resource release is never conditional on success
	// (spec §7, "Propagation policy").
	defer lease.Release(context.Background())

	if err := ctx.Err(); err != nil {
		return resultkind.Result{Kind: resultkind.Cancelled}
	}

	result, err := o.primitive.Transfer(ctx, cmd, o.cfg.Ledger)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return resultkind.Result{Kind: resultkind.Cancelled}
		}
		return resultkind.Result{Kind: resultkind.Unavailable, Err: err}
	}

	return result
}
