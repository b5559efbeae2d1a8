package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tx is the handle a WatchedTx body uses to read live state and queue
// writes. Reads happen immediately against the watched transaction; writes
// are deferred into the MULTI/EXEC batch that WatchedTx commits after body
// returns successfully.
type Tx struct {
	ctx     context.Context
	redisTx *redis.Tx
	queued  []func(redis.Pipeliner)
}

// Get reads a single key within the watched transaction.
func (t *Tx) Get(key string) (string, bool, error) {
	v, err := t.redisTx.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// HGetMulti reads a hash's fields within the watched transaction.
func (t *Tx) HGetMulti(key string, fields ...string) (map[string]string, error) {
	vals, err := t.redisTx.HMGet(t.ctx, key, fields...).Result()
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

// QueueHSet enqueues a hash field write into the commit batch.
func (t *Tx) QueueHSet(key, field, value string) {
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, key, field, value)
	})
}

// QueueSet enqueues a string write with an optional TTL into the commit
// batch. ttl == 0 means no expiry.
func (t *Tx) QueueSet(key, value string, ttl time.Duration) {
	t.queued = append(t.queued, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, value, ttl)
	})
}
