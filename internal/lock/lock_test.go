package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-transfer-engine/internal/kvstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, _ := newTestManagerWithMiniredis(t)
	return mgr
}

func newTestManagerWithMiniredis(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(kvstore.New(client)), mr
}

func testConfig() Config {
	return Config{
		TTL:            time.Second,
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
		MaxRetries:     3,
	}
}

func TestAcquire_GrantsAllNamesInSortedOrder(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	lease, err := mgr.Acquire(ctx, []string{"bob", "alice"}, testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, lease.Names(), "names must be canonicalised into sorted order")

	lease.Release(ctx)
}

func TestAcquire_DuplicateNamesCollapseToOneLock(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	lease, err := mgr.Acquire(ctx, []string{"alice", "alice"}, testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, lease.Names())
	lease.Release(ctx)
}

func TestAcquire_BlocksUntilHeldLeaseReleases(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Acquire(ctx, []string{"alice", "bob"}, testConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MaxRetries = 50
	cfg.MaxRetryDelay = 2 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		second, err := mgr.Acquire(ctx, []string{"alice", "bob"}, cfg)
		if err == nil {
			second.Release(ctx)
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	first.Release(ctx)

	select {
	case err := <-done:
		assert.NoError(t, err, "the second acquirer must succeed once the first releases")
	case <-time.After(time.Second):
		t.Fatal("second Acquire never returned after the first lease was released")
	}
}

func TestAcquire_GivesUpWithErrUnavailableAfterMaxRetries(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	held, err := mgr.Acquire(ctx, []string{"alice"}, testConfig())
	require.NoError(t, err)
	defer held.Release(ctx)

	cfg := testConfig()
	cfg.MaxRetries = 2

	_, err = mgr.Acquire(ctx, []string{"alice"}, cfg)
	assert.ErrorIs(t, err, ErrUnavailable)
}

// TestAcquire_TTLExpiryRecoversFromAnAbandonedLease exercises spec.md §8's
// crash-recovery property directly: a holder that never calls Release (a
// simulated crash) must not block other acquirers forever — the lease's TTL
// is the only thing that frees it.
func TestAcquire_TTLExpiryRecoversFromAnAbandonedLease(t *testing.T) {
	mgr, mr := newTestManagerWithMiniredis(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.TTL = 500 * time.Millisecond

	_, err := mgr.Acquire(ctx, []string{"user_1"}, cfg)
	require.NoError(t, err, "the first holder acquires cleanly")
	// Abandoned: no Release call, simulating a crashed holder.

	secondCfg := testConfig()
	secondCfg.MaxRetries = 1
	_, err = mgr.Acquire(ctx, []string{"user_1"}, secondCfg)
	assert.ErrorIs(t, err, ErrUnavailable, "the lease is still held until its TTL expires")

	mr.FastForward(cfg.TTL)

	second, err := mgr.Acquire(ctx, []string{"user_1"}, testConfig())
	require.NoError(t, err, "a second acquirer must succeed once the abandoned lease's TTL has elapsed")
	second.Release(ctx)
}

func TestAcquire_PartialFailureRollsBackAcquiredNames(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	// Hold "carol" so a {alice, carol} acquisition can get "alice" but must
	// roll it back when "carol" fails.
	heldCarol, err := mgr.Acquire(ctx, []string{"carol"}, testConfig())
	require.NoError(t, err)
	defer heldCarol.Release(ctx)

	cfg := testConfig()
	cfg.MaxRetries = 1

	_, err = mgr.Acquire(ctx, []string{"alice", "carol"}, cfg)
	assert.ErrorIs(t, err, ErrUnavailable)

	// "alice" must have been rolled back, not left dangling.
	other, err := mgr.Acquire(ctx, []string{"alice"}, testConfig())
	require.NoError(t, err, "a failed multi-key acquisition must not leak partial locks")
	other.Release(ctx)
}
