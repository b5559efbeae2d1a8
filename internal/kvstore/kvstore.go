// Package kvstore is the capability boundary of spec §4.A: it exposes
// exactly the five primitives the engine needs against a single logical
// key-value store, and nothing else. Any backend offering these five
// operations may be substituted — this file wires the one real backend
// (Redis via github.com/redis/go-redis/v9); tests substitute a fake server
// started in-process with github.com/alicebob/miniredis/v2, never a
// hand-rolled mock of this interface.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the five-operation capability set of spec §4.A. No other KV
// operation is used by the engine.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	HGetMulti(ctx context.Context, key string, fields ...string) (map[string]string, error)
	WatchedTx(ctx context.Context, watchedKeys []string, body func(*Tx) error) (committed bool, err error)
}

// deleteIfEqualScript is a server-side compound operation: it must never be
// implemented as a client-side read-then-delete, since that would reopen the
// exact race the compare-and-delete exists to close.
const deleteIfEqualScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store against a single redis.Client (or anything
// satisfying its subset of the API, including a miniredis-backed client in
// tests).
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// New wraps an already-constructed *redis.Client. The caller owns dialing
// and closing it, matching the teacher's pattern of constructing one client
// per logical store and sharing it across collaborators (the KV adapter and
// the bus consumer, here, both talk to the same Redis deployment).
func New(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(deleteIfEqualScript),
	}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) DeleteIfEqual(ctx context.Context, key, value string) (bool, error) {
	res, err := s.script.Run(ctx, s.client, []string{key}, value).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

func (s *RedisStore) HGetMulti(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	vals, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for i, f := range fields {
		if vals[i] == nil {
			continue
		}
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		out[f] = s
	}
	return out, nil
}

// HSetAll writes fields to key in one round trip, outside any watched
// transaction. It exists for internal/seed, which provisions wallets before
// the engine accepts traffic and so never races a concurrent writer; the
// engine itself only ever mutates a wallet hash through WatchedTx.
func (s *RedisStore) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	values := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return s.client.HSet(ctx, key, values).Err()
}

// WatchedTx begins a watched transaction over watchedKeys and runs body,
// which may read (via Tx.Get/Tx.HGetMulti) and enqueue writes (via
// Tx.QueueSet/Tx.QueueHSet). The batch commits atomically iff none of the
// watched keys changed between WATCH and EXEC. A body error that is not an
// optimistic-concurrency abort propagates unchanged (committed=false,
// err=that error) so callers can distinguish "business rule rejected this"
// from "retry candidate".
func (s *RedisStore) WatchedTx(ctx context.Context, watchedKeys []string, body func(*Tx) error) (bool, error) {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := &Tx{ctx: ctx, redisTx: rtx}
		if err := body(tx); err != nil {
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, enqueue := range tx.queued {
				enqueue(pipe)
			}
			return nil
		})
		return err
	}, watchedKeys...)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
