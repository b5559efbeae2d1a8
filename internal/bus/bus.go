// Package bus is the engine's inbound transfer-command bus (spec §6,
// "Inbound — transfer command"): a delivery surface that can hand the
// orchestrator the same command more than once (a requeued or resubmitted
// command arrives again under the same OpID), which the orchestrator is
// expected to absorb. Its transport and
// framing are explicitly out of spec's scope; this file picks one concrete,
// real implementation — a Redis-backed delayed queue — reusing the
// teacher's ZADD/ZRANGEBYSCORE/ZREM delivery-queue pattern (internal/queue
// in the teacher repo) against the score being a delivery timestamp instead
// of a webhook retry schedule.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wallet-transfer-engine/internal/models"
)

const (
	commandQueueKey  = "transfer:bus:queue"
	processingSetKey = "transfer:bus:processing"
)

// envelope is the wire framing for one queued command, carrying a processing
// identity independent of the caller-supplied OpID so retries and redelivery
// bookkeeping never need to trust client input for uniqueness.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Command    models.Command  `json:"command"`
}

// RedisBus implements the inbound command bus against Redis.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish enqueues cmd for immediate delivery. Used by the request-producer
// harness (cmd/loadgen) and the HTTP surface (internal/httpapi).
func (b *RedisBus) Publish(ctx context.Context, cmd models.Command) error {
	return b.publishAt(ctx, cmd, time.Now())
}

// PublishWithDelay enqueues cmd for delivery no earlier than delay from now.
func (b *RedisBus) PublishWithDelay(ctx context.Context, cmd models.Command, delay time.Duration) error {
	return b.publishAt(ctx, cmd, time.Now().Add(delay))
}

func (b *RedisBus) publishAt(ctx context.Context, cmd models.Command, at time.Time) error {
	env := envelope{EnvelopeID: envelopeID(cmd, at), Command: cmd}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal command %s: %w", cmd.OpID, err)
	}
	return b.client.ZAdd(ctx, commandQueueKey, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: string(data),
	}).Err()
}

// Next pulls the earliest due command, if any, and marks it in-flight. The
// returned ack must be called once the orchestrator has produced a result
// for the command. Claiming removes the envelope from the queue, so a crash
// between Next and ack does not redeliver it: only its processing marker
// remains. Commands that do arrive twice (requeues, resubmissions) are
// absorbed by the orchestrator's idempotency guard (internal/idempotency).
func (b *RedisBus) Next(ctx context.Context) (cmd models.Command, ack func(context.Context) error, ok bool, err error) {
	now := float64(time.Now().UnixNano())

	results, err := b.client.ZRangeByScoreWithScores(ctx, commandQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 1,
	}).Result()
	if err != nil {
		return models.Command{}, nil, false, fmt.Errorf("bus: scan queue: %w", err)
	}
	if len(results) == 0 {
		return models.Command{}, nil, false, nil
	}

	member := results[0].Member.(string)
	removed, err := b.client.ZRem(ctx, commandQueueKey, member).Result()
	if err != nil {
		return models.Command{}, nil, false, fmt.Errorf("bus: remove from queue: %w", err)
	}
	if removed == 0 {
		// Another consumer already claimed this envelope.
		return models.Command{}, nil, false, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(member), &env); err != nil {
		return models.Command{}, nil, false, fmt.Errorf("bus: decode envelope: %w", err)
	}

	if err := b.client.SAdd(ctx, processingSetKey, env.EnvelopeID).Err(); err != nil {
		return models.Command{}, nil, false, fmt.Errorf("bus: mark processing: %w", err)
	}

	ack = func(ackCtx context.Context) error {
		return b.client.SRem(ackCtx, processingSetKey, env.EnvelopeID).Err()
	}

	return env.Command, ack, true, nil
}

// Requeue re-publishes cmd after delay — used when the orchestrator returns
// a retriable kind (LockUnavailable, ConcurrencyConflict, Unavailable). It
// does not touch the processing marker; the caller still acks the claimed
// envelope.
func (b *RedisBus) Requeue(ctx context.Context, cmd models.Command, delay time.Duration) error {
	return b.PublishWithDelay(ctx, cmd, delay)
}

// PendingCount reports the queue depth, for metrics/health endpoints.
func (b *RedisBus) PendingCount(ctx context.Context) (int64, error) {
	return b.client.ZCard(ctx, commandQueueKey).Result()
}

// ProcessingCount reports how many envelopes are currently claimed but
// unacknowledged.
func (b *RedisBus) ProcessingCount(ctx context.Context) (int64, error) {
	return b.client.SCard(ctx, processingSetKey).Result()
}

// ClearProcessing drops the processing set, used on worker startup to
// recover from a prior crash — any envelope that was claimed but never
// acked is, by definition, also no longer in the ZSET, and the bus has no
// copy from which to redeliver it; this call only clears stale processing
// markers so ProcessingCount stops reporting phantom in-flight work.
func (b *RedisBus) ClearProcessing(ctx context.Context) error {
	return b.client.Del(ctx, processingSetKey).Err()
}

func envelopeID(cmd models.Command, at time.Time) string {
	return fmt.Sprintf("%s:%d", cmd.OpID, at.UnixNano())
}
