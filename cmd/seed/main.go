// cmd/seed provisions a fixed set of demo wallets across both stores: the
// descriptive record in Postgres, the authoritative balance/status hash in
// the KV store (internal/seed). It is a one-shot CLI, run before the worker
// and server processes start serving traffic.
package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/config"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/seed"
)

func main() {
	cfg := config.Load()

	db, err := seed.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	opts, err := redis.ParseURL(cfg.KVURL)
	if err != nil {
		log.Fatalf("failed to parse KV_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	store := kvstore.New(client)

	wallets := []seed.WalletSeed{
		{UserID: "alice", DisplayName: "Alice", Currency: "USD", OpeningBalance: decimal.NewFromInt(10000), Status: models.StatusActive},
		{UserID: "bob", DisplayName: "Bob", Currency: "USD", OpeningBalance: decimal.NewFromInt(5000), Status: models.StatusActive},
		{UserID: "carol", DisplayName: "Carol", Currency: "USD", OpeningBalance: decimal.NewFromInt(0), Status: models.StatusActive},
		{UserID: "dave", DisplayName: "Dave", Currency: "USD", OpeningBalance: decimal.NewFromInt(2500), Status: models.StatusFrozen},
	}

	ctx := context.Background()
	for _, w := range wallets {
		if err := db.SeedWallet(ctx, store, w, cfg.BalanceScale); err != nil {
			log.Fatalf("failed to seed wallet %s: %v", w.UserID, err)
		}
		log.Printf("seeded wallet %s (%s %s, %s)", w.UserID, w.OpeningBalance.StringFixed(cfg.BalanceScale), w.Currency, w.Status)
	}
}
