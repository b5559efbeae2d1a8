// Package resultkind enumerates the closed set of outcomes the transfer
// orchestrator returns to its caller (spec §6/§7). Every failure is a value,
// never an out-of-band exception — only genuinely unexpected infrastructure
// faults propagate as panics.
package resultkind

import "github.com/shopspring/decimal"

// Kind is one of the taxonomy values from spec §7.
type Kind string

const (
	// Applied is the only success kind.
	Applied Kind = "applied"

	// Validation errors: caller error, no state touched, not retriable.
	InvalidRequest    Kind = "invalid_request"
	SameUserTransfer  Kind = "same_user_transfer"
	InvalidAmount     Kind = "invalid_amount"

	// Domain errors: business-rule rejection, no state touched.
	InsufficientFunds Kind = "insufficient_funds"
	WalletNotFound    Kind = "wallet_not_found"
	WalletInactive    Kind = "wallet_inactive"

	// Concurrency errors: transient, safe to retry with the same OpID.
	LockUnavailable     Kind = "lock_unavailable"
	ConcurrencyConflict Kind = "concurrency_conflict"

	// Infrastructure: KV or bus I/O failure, original cause attached.
	Unavailable Kind = "unavailable"

	// Cancelled: caller cancellation observed before the linearization
	// point (the watched transaction's commit).
	Cancelled Kind = "cancelled"
)

// Retriable reports whether a caller may retry the same OpID and expect
// idempotency to make it safe.
func (k Kind) Retriable() bool {
	switch k {
	case LockUnavailable, ConcurrencyConflict, Unavailable:
		return true
	default:
		return false
	}
}

// Result is what the orchestrator returns for every call.
type Result struct {
	Kind      Kind
	NewFrom   decimal.Decimal
	NewTo     decimal.Decimal
	Duplicate bool
	Err       error
}

// Outcome is the small, JSON-encodable projection of a Result that gets
// persisted as the idempotency record's value (spec §3, "Idempotency
// record"). It excludes Err, which is not meaningful to replay.
type Outcome struct {
	Kind    Kind            `json:"kind"`
	NewFrom decimal.Decimal `json:"new_from"`
	NewTo   decimal.Decimal `json:"new_to"`
}

// ToOutcome projects a Result into its persisted form.
func (r Result) ToOutcome() Outcome {
	return Outcome{Kind: r.Kind, NewFrom: r.NewFrom, NewTo: r.NewTo}
}

// FromOutcome reconstructs a Result from a persisted Outcome, with
// Duplicate set to duplicate, e.g. when the idempotency guard
// short-circuits a duplicate.
func FromOutcome(o Outcome, duplicate bool) Result {
	return Result{Kind: o.Kind, NewFrom: o.NewFrom, NewTo: o.NewTo, Duplicate: duplicate}
}
