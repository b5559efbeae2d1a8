// The worker process is the engine proper: it drains the inbound transfer
// bus and hands each command to the orchestrator, following the teacher's
// StartWorker shape (a poll loop, a bounded semaphore for in-flight work,
// graceful shutdown on signal) but trading HTTP delivery for the
// lock/ledger transfer primitive.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"wallet-transfer-engine/internal/breaker"
	"wallet-transfer-engine/internal/bus"
	"wallet-transfer-engine/internal/config"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/ledger"
	"wallet-transfer-engine/internal/lock"
	"wallet-transfer-engine/internal/metrics"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/resultkind"
	"wallet-transfer-engine/internal/transfer"
)

const workerPollInterval = 100 * time.Millisecond

func main() {
	cfg := config.Load()

	opts, err := redis.ParseURL(cfg.KVURL)
	if err != nil {
		log.Fatalf("failed to parse KV_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	store := kvstore.New(client)
	commandBus := bus.NewRedisBus(client)
	metricsCollector := metrics.New()

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

	// The breaker's threshold and open duration track this pair's own lock
	// parameters: a pair that has already exhausted cfg.LockMaxRetries worth
	// of contention trips the circuit for one lease TTL, the same horizon
	// over which a stuck holder would self-expire anyway.
	pairBreaker := breaker.New(breaker.Config{
		FailureThreshold: cfg.LockMaxRetries,
		OpenTimeout:      cfg.LockTTL,
	})

	// A crash leaves stale processing markers behind; any envelope claimed
	// but never acked is, by construction, already gone from the queue, so
	// clearing the marker set on startup just prevents diagnostics from
	// reporting phantom in-flight work.
	if err := commandBus.ClearProcessing(context.Background()); err != nil {
		log.Printf("warning: failed to clear stale processing markers: %v", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	for i := 0; i < cfg.WorkerCount; i++ {
		go startWorker(workerCtx, i, commandBus, orchestrator, metricsCollector, pairBreaker)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down worker process...")
	cancelWorkers()
	time.Sleep(500 * time.Millisecond)
	log.Println("worker process exited")
}

func startWorker(ctx context.Context, workerID int, commandBus *bus.RedisBus, orchestrator *transfer.Orchestrator, m *metrics.Collector, pairBreaker *breaker.Breaker) {
	log.Printf("worker %d started", workerID)

	const maxConcurrent = 10
	sem := make(chan struct{}, maxConcurrent)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %d stopped", workerID)
			return
		default:
			cmd, ack, ok, err := commandBus.Next(ctx)
			if err != nil {
				log.Printf("worker %d: error pulling from bus: %v", workerID, err)
				time.Sleep(time.Second)
				continue
			}
			if !ok {
				time.Sleep(workerPollInterval)
				continue
			}

			select {
			case sem <- struct{}{}:
				go func(cmd models.Command, ack func(context.Context) error) {
					defer func() { <-sem }()
					processCommand(ctx, cmd, ack, commandBus, orchestrator, m, workerID, pairBreaker)
				}(cmd, ack)
			default:
				if err := commandBus.Requeue(ctx, cmd, 100*time.Millisecond); err != nil {
					log.Printf("worker %d: failed to requeue %s: %v", workerID, cmd.OpID, err)
				}
				_ = ack(ctx)
			}
		}
	}
}

func processCommand(ctx context.Context, cmd models.Command, ack func(context.Context) error, commandBus *bus.RedisBus, orchestrator *transfer.Orchestrator, m *metrics.Collector, workerID int, pairBreaker *breaker.Breaker) {
	pairKey := breaker.PairKey(cmd.From, cmd.To)

	if allowed, _ := pairBreaker.AllowRequest(pairKey); !allowed {
		delay := pairBreaker.GetResetDelay(pairKey)
		if err := commandBus.Requeue(ctx, cmd, delay); err != nil {
			log.Printf("worker %d: failed to requeue %s while circuit open for %s: %v", workerID, cmd.OpID, pairKey, err)
		}
		_ = ack(ctx)
		return
	}

	result := orchestrator.Transfer(ctx, cmd)
	m.Record(result.Kind)

	if result.Kind == resultkind.LockUnavailable || result.Kind == resultkind.Unavailable {
		pairBreaker.RecordFailure(pairKey)
	} else {
		pairBreaker.RecordSuccess(pairKey)
	}

	if result.Kind.Retriable() {
		delay := retryDelayFor(result.Kind)
		if err := commandBus.Requeue(ctx, cmd, delay); err != nil {
			log.Printf("worker %d: failed to requeue %s after %s: %v", workerID, cmd.OpID, result.Kind, err)
		}
	}

	if err := ack(ctx); err != nil {
		log.Printf("worker %d: failed to ack %s: %v", workerID, cmd.OpID, err)
	}

	if result.Kind != resultkind.Applied {
		log.Printf("worker %d: op %s resolved %s", workerID, cmd.OpID, result.Kind)
	}
}

func retryDelayFor(kind resultkind.Kind) time.Duration {
	switch kind {
	case resultkind.LockUnavailable:
		return 250 * time.Millisecond
	case resultkind.ConcurrencyConflict:
		return 50 * time.Millisecond
	default:
		return time.Second
	}
}
