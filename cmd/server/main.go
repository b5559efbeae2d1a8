// The server process exposes the HTTP surface of internal/httpapi: it
// submits transfers synchronously through the same orchestrator the worker
// process runs, for callers who want a request/response round trip instead
// of publishing onto the bus. Graceful shutdown follows the teacher's
// main.go shape exactly: listen in a goroutine, wait on SIGINT/SIGTERM,
// bounded Shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"wallet-transfer-engine/internal/config"
	"wallet-transfer-engine/internal/httpapi"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/ledger"
	"wallet-transfer-engine/internal/lock"
	"wallet-transfer-engine/internal/metrics"
	"wallet-transfer-engine/internal/ratelimit"
	"wallet-transfer-engine/internal/seed"
	"wallet-transfer-engine/internal/transfer"
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
	metricsCollector := metrics.New()
	// grace is the lock's own base retry delay: a caller that resubmits
	// sooner than that has no realistic chance of winning the lock race, so
	// there is no reason to let it back off any faster than the lock itself
	// does.
	limiter := ratelimit.New(100, time.Minute, cfg.LockBaseRetry)

	orchestrator := transfer.New(store, transfer.Config{
		Lock: lock.Config{
			TTL:            cfg.LockTTL,
			BaseRetryDelay: cfg.LockBaseRetry,
			MaxRetryDelay:  cfg.LockMaxRetry,
			MaxRetries:     cfg.LockMaxRetries,
		},
		Ledger: ledger.Config{
			TxMaxAttempts:  cfg.TxMaxAttempts,
			IdempotencyTTL: cfg.IdempotencyTTL,
			BalanceScale:   cfg.BalanceScale,
		},
	})

	h := httpapi.New(orchestrator, store, limiter, metricsCollector)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/transfers", h.CreateTransfer)
	r.Get("/transfers/{op_id}", h.GetTransferStatus)
	r.Get("/wallets/{user_id}", h.GetWallet)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/health", h.HealthCheck)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("server exited properly")
}
