package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/resultkind"
)

func newTestGuard(t *testing.T) (*Guard, kvstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.New(client)
	return New(store), store
}

func TestCheck_UnknownOpIDReportsNotApplied(t *testing.T) {
	guard, _ := newTestGuard(t)

	_, applied, err := guard.Check(context.Background(), "op-1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRecordInto_ThenCheckFindsTheCommittedOutcome(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()

	outcome := resultkind.Outcome{
		Kind:    resultkind.Applied,
		NewFrom: decimal.NewFromFloat(90.00),
		NewTo:   decimal.NewFromFloat(110.00),
	}

	committed, err := store.WatchedTx(ctx, []string{"applied:op-1"}, func(tx *kvstore.Tx) error {
		return RecordInto(tx, "op-1", outcome, time.Minute)
	})
	require.NoError(t, err)
	require.True(t, committed)

	got, applied, err := guard.Check(ctx, "op-1")
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, resultkind.Applied, got.Kind)
	assert.True(t, outcome.NewFrom.Equal(got.NewFrom))
	assert.True(t, outcome.NewTo.Equal(got.NewTo))
}

func TestCheckInTx_DoesNotSeeRecordsQueuedInTheSameTransaction(t *testing.T) {
	_, store := newTestGuard(t)
	ctx := context.Background()

	outcome := resultkind.Outcome{Kind: resultkind.InsufficientFunds}
	committed, err := store.WatchedTx(ctx, []string{"applied:op-2"}, func(tx *kvstore.Tx) error {
		require.NoError(t, RecordInto(tx, "op-2", outcome, time.Minute))

		got, applied, err := CheckInTx(tx, "op-2")
		// Reads within a Redis MULTI/EXEC pipeline never observe the queued
		// writes of the same batch — CheckInTx here reads live state, not the
		// pending commit, so op-2 must still appear unseen until this
		// transaction actually commits.
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, resultkind.Kind(""), got.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, committed)
}
