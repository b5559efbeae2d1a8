// Package models holds the value types the engine reads and writes. None of
// them own behaviour beyond simple accessors — the transfer semantics live in
// internal/ledger and internal/transfer.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletStatus mirrors the status flag stored in the wallet hash. Only
// StatusActive may transfer or receive.
type WalletStatus string

const (
	StatusActive WalletStatus = "active"
	StatusFrozen WalletStatus = "frozen"
	StatusClosed WalletStatus = "closed"
)

// Wallet is the authoritative account record, keyed by Redis hash
// wallet:<UserID>. The engine reads Balance, Status and Currency and writes
// only Balance; Currency is opaque to it and descriptive fields live in Postgres
// (see internal/seed).
type Wallet struct {
	UserID   string
	Balance  decimal.Decimal
	Currency string
	Status   WalletStatus
}

// IsActive reports whether the wallet may participate in a transfer.
func (w Wallet) IsActive() bool {
	return w.Status == StatusActive
}

// Command is the inbound transfer request delivered over the bus. It is a
// value type: immutable once published, identified by OpID for idempotency.
type Command struct {
	OpID   string          `json:"op_id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// WalletDescriptor is the descriptive, non-authoritative record kept in
// Postgres by the external seeder (internal/seed). The engine never reads
// or writes it.
type WalletDescriptor struct {
	UserID      string
	DisplayName string
	Currency    string
	CreatedAt   time.Time
}
