// Package breaker trips per wallet-pair after repeated requeued contention on
// that pair's lock, so a worker stops immediately re-attempting a transfer
// that has no realistic chance of winning the lock right now and instead
// lets the bus redeliver it later. It is wired only into the worker's
// requeue scheduling (cmd/worker), never into the orchestrator's graded
// Transfer path — nothing here touches balances, locks, or Result kinds, and
// tripping it can at most change how soon a retriable command is retried.
//
// Its threshold and open duration are not arbitrary constants: a caller
// derives them from the same lock.Config the pair's own lock acquisition
// uses (Config.FailureThreshold from MaxRetries, Config.OpenTimeout from the
// lease TTL), so a pair that is already exhausting its lock retries trips
// the breaker at the point where another immediate attempt is provably no
// more likely to succeed than waiting out one lease lifetime.
package breaker

import (
	"sync"
	"time"
)

// Config carries the pair's own lock parameters so the breaker's threshold
// and open duration track that pair's actual contention behavior instead of
// a fixed constant.
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// State is the circuit's state for one pair key.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Breaker tracks one circuit per pair key (the pair's two names in the
// sorted order the lock acquires them, joined as "a|b").
type Breaker struct {
	mu            sync.RWMutex
	cfg           Config
	failures      map[string]int
	openedAt      map[string]time.Time
	probeInFlight map[string]bool
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{
		cfg:           cfg,
		failures:      make(map[string]int),
		openedAt:      make(map[string]time.Time),
		probeInFlight: make(map[string]bool),
	}
}

// PairKey is the same sorted-names canonicalisation the lock performs,
// exposed here so callers can key the breaker and the lock identically.
func PairKey(from, to string) string {
	names := []string{from, to}
	if names[0] > names[1] {
		names[0], names[1] = names[1], names[0]
	}
	return names[0] + "|" + names[1]
}

// RecordFailure registers a retriable lock-contention outcome for pairKey. A
// failure during a probe reopens the circuit for another full timeout.
func (b *Breaker) RecordFailure(pairKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probeInFlight[pairKey] {
		b.probeInFlight[pairKey] = false
		b.openedAt[pairKey] = time.Now()
		return
	}

	b.failures[pairKey]++
	if b.failures[pairKey] >= b.cfg.FailureThreshold {
		if _, exists := b.openedAt[pairKey]; !exists {
			b.openedAt[pairKey] = time.Now()
		}
	}
}

// RecordSuccess clears the circuit for pairKey.
func (b *Breaker) RecordSuccess(pairKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probeInFlight[pairKey] {
		b.probeInFlight[pairKey] = false
	}
	b.failures[pairKey] = 0
	delete(b.openedAt, pairKey)
}

// AllowRequest reports whether a transfer attempt on pairKey should proceed,
// and whether this attempt is a post-timeout probe.
func (b *Breaker) AllowRequest(pairKey string) (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	openedTime, exists := b.openedAt[pairKey]
	if !exists {
		return true, false
	}

	if time.Since(openedTime) >= b.cfg.OpenTimeout {
		if !b.probeInFlight[pairKey] {
			b.probeInFlight[pairKey] = true
			return true, true
		}
		return false, false
	}

	return false, false
}

// GetResetDelay returns how long until pairKey's circuit allows a probe.
func (b *Breaker) GetResetDelay(pairKey string) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	openedTime, exists := b.openedAt[pairKey]
	if !exists {
		return 0
	}
	elapsed := time.Since(openedTime)
	if elapsed >= b.cfg.OpenTimeout {
		return 0
	}
	return b.cfg.OpenTimeout - elapsed
}

// State reports the circuit's current state for pairKey.
func (b *Breaker) State(pairKey string) State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	openedTime, exists := b.openedAt[pairKey]
	if !exists {
		return Closed
	}
	if time.Since(openedTime) >= b.cfg.OpenTimeout {
		return HalfOpen
	}
	return Open
}
