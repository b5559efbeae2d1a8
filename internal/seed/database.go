// Package seed provisions wallets before the engine runs: it writes the
// descriptive record (display name, currency tag) into Postgres, the
// system-of-record for metadata the engine itself never reads, and the
// authoritative balance/status hash into the KV store the engine does read
// (spec.md §3 — "separate descriptive storage from the authoritative KV
// balance"). Nothing in cmd/worker or cmd/server calls back into this
// package at request time; it is a provisioning-time concern only, invoked
// from cmd/seed.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/models"
)

// DB wraps the descriptive Postgres store.
type DB struct {
	pool *pgxpool.Pool
}

func New(connString string) (*DB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Migrate creates the descriptive schema. The engine's own state lives
// entirely in the KV store, so no balance/status tables appear here.
func (db *DB) Migrate() error {
	ctx := context.Background()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS wallet_descriptors (
			user_id VARCHAR(255) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			currency VARCHAR(16) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_descriptors_currency ON wallet_descriptors(currency)`,
	}

	for _, migration := range migrations {
		if _, err := db.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}

// CreateDescriptor inserts or replaces the descriptive record for a wallet.
// It never touches balance or status — those are KV-only (see SeedWallet).
func (db *DB) CreateDescriptor(ctx context.Context, d *models.WalletDescriptor) error {
	query := `
		INSERT INTO wallet_descriptors (user_id, display_name, currency, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET display_name = $2, currency = $3
	`
	_, err := db.pool.Exec(ctx, query, d.UserID, d.DisplayName, d.Currency, d.CreatedAt)
	return err
}

func (db *DB) GetDescriptor(ctx context.Context, userID string) (*models.WalletDescriptor, error) {
	query := `SELECT user_id, display_name, currency, created_at FROM wallet_descriptors WHERE user_id = $1`

	var d models.WalletDescriptor
	err := db.pool.QueryRow(ctx, query, userID).Scan(&d.UserID, &d.DisplayName, &d.Currency, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (db *DB) ListDescriptors(ctx context.Context) ([]models.WalletDescriptor, error) {
	query := `SELECT user_id, display_name, currency, created_at FROM wallet_descriptors ORDER BY created_at ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descriptors []models.WalletDescriptor
	for rows.Next() {
		var d models.WalletDescriptor
		if err := rows.Scan(&d.UserID, &d.DisplayName, &d.Currency, &d.CreatedAt); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// WalletSeed is one wallet's full initial state, spanning both stores.
type WalletSeed struct {
	UserID         string
	DisplayName    string
	Currency       string
	OpeningBalance decimal.Decimal
	Status         models.WalletStatus
}

// SeedWallet writes ws's descriptive half to Postgres and its authoritative
// half to the KV store. The two writes are not transactional across stores
// — spec.md draws the store boundary precisely so that they never need to
// be, since the engine reads only the KV half at request time. A crash
// between the two writes leaves a wallet with metadata but no balance hash;
// that is a provisioning bug, surfaced by rerunning the seeder, not a
// correctness gap in the engine.
func (db *DB) SeedWallet(ctx context.Context, store kvstore.Store, ws WalletSeed, balanceScale int32) error {
	descriptor := &models.WalletDescriptor{
		UserID:      ws.UserID,
		DisplayName: ws.DisplayName,
		Currency:    ws.Currency,
		CreatedAt:   time.Now(),
	}
	if err := db.CreateDescriptor(ctx, descriptor); err != nil {
		return fmt.Errorf("seed: write descriptor for %s: %w", ws.UserID, err)
	}

	status := ws.Status
	if status == "" {
		status = models.StatusActive
	}

	key := "wallet:" + ws.UserID
	fields := map[string]string{
		"balance":  ws.OpeningBalance.StringFixed(balanceScale),
		"currency": ws.Currency,
		"status":   string(status),
	}
	if err := hSetAll(ctx, store, key, fields); err != nil {
		return fmt.Errorf("seed: write KV balance for %s: %w", ws.UserID, err)
	}
	return nil
}

// hSetAll is the one write seeding needs that the engine's Store interface
// doesn't expose (a bare HSet outside any watched transaction — acceptable
// here because provisioning runs before the engine serves traffic, so there
// is no concurrent writer to race). It is satisfied by kvstore.RedisStore
// via an inline interface so tests can substitute a miniredis-backed store
// without depending on *redis.Client directly.
func hSetAll(ctx context.Context, store kvstore.Store, key string, fields map[string]string) error {
	setter, ok := store.(interface {
		HSetAll(ctx context.Context, key string, fields map[string]string) error
	})
	if !ok {
		return fmt.Errorf("seed: store %T does not support bulk HSet", store)
	}
	return setter.HSetAll(ctx, key, fields)
}
