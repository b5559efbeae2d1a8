package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/resultkind"
)

func newTestPrimitive(t *testing.T) (*Primitive, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(kvstore.New(client)), mr
}

func seedWallet(t *testing.T, mr *miniredis.Miniredis, userID, balance, currency string, status models.WalletStatus) {
	t.Helper()
	require.NoError(t, mr.HSet("wallet:"+userID, "balance", balance, "currency", currency, "status", string(status)))
}

func testLedgerConfig() Config {
	return Config{TxMaxAttempts: 3, IdempotencyTTL: time.Minute, BalanceScale: 2}
}

func TestTransfer_AppliesDebitAndCredit(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)
	seedWallet(t, mr, "bob", "50.00", "USD", models.StatusActive)

	cmd := models.Command{OpID: "op-1", From: "alice", To: "bob", Amount: decimal.NewFromFloat(25.00)}
	result, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.Applied, result.Kind)
	assert.True(t, decimal.NewFromFloat(75.00).Equal(result.NewFrom))
	assert.True(t, decimal.NewFromFloat(75.00).Equal(result.NewTo))

	aliceBalance, _ := mr.HGet("wallet:alice", "balance")
	bobBalance, _ := mr.HGet("wallet:bob", "balance")
	assert.Equal(t, "75.00", aliceBalance)
	assert.Equal(t, "75.00", bobBalance)
}

func TestTransfer_InsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "10.00", "USD", models.StatusActive)
	seedWallet(t, mr, "bob", "0.00", "USD", models.StatusActive)

	cmd := models.Command{OpID: "op-2", From: "alice", To: "bob", Amount: decimal.NewFromFloat(25.00)}
	result, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.InsufficientFunds, result.Kind)

	aliceBalance, _ := mr.HGet("wallet:alice", "balance")
	assert.Equal(t, "10.00", aliceBalance)
}

func TestTransfer_WalletNotFound(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)

	cmd := models.Command{OpID: "op-3", From: "alice", To: "ghost", Amount: decimal.NewFromFloat(1.00)}
	result, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.WalletNotFound, result.Kind)
}

func TestTransfer_InactiveWalletIsRejected(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)
	seedWallet(t, mr, "dave", "50.00", "USD", models.StatusFrozen)

	cmd := models.Command{OpID: "op-4", From: "alice", To: "dave", Amount: decimal.NewFromFloat(10.00)}
	result, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.WalletInactive, result.Kind)
}

func TestTransfer_WrongScaleAmountIsRejected(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)
	seedWallet(t, mr, "bob", "0.00", "USD", models.StatusActive)

	cmd := models.Command{OpID: "op-5", From: "alice", To: "bob", Amount: decimal.NewFromFloat(1.005)}
	result, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.InvalidAmount, result.Kind)
}

func TestTransfer_DuplicateOpIDReplaysTheOriginalOutcome(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)
	seedWallet(t, mr, "bob", "0.00", "USD", models.StatusActive)

	cmd := models.Command{OpID: "op-6", From: "alice", To: "bob", Amount: decimal.NewFromFloat(10.00)}
	first, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	require.Equal(t, resultkind.Applied, first.Kind)

	second, err := p.Transfer(context.Background(), cmd, testLedgerConfig())
	require.NoError(t, err)
	assert.Equal(t, resultkind.Applied, second.Kind)
	assert.True(t, first.NewFrom.Equal(second.NewFrom))

	aliceBalance, _ := mr.HGet("wallet:alice", "balance")
	assert.Equal(t, "90.00", aliceBalance, "a replayed duplicate must not debit the wallet a second time")
}

func TestTransfer_ConcurrentBidirectionalPairConservesTotalBalance(t *testing.T) {
	p, mr := newTestPrimitive(t)
	seedWallet(t, mr, "alice", "100.00", "USD", models.StatusActive)
	seedWallet(t, mr, "bob", "100.00", "USD", models.StatusActive)

	const rounds = 20
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cmd := models.Command{OpID: idFor("a2b", i), From: "alice", To: "bob", Amount: decimal.NewFromFloat(1.00)}
			p.Transfer(context.Background(), cmd, testLedgerConfig())
		}(i)
		go func(i int) {
			defer wg.Done()
			cmd := models.Command{OpID: idFor("b2a", i), From: "bob", To: "alice", Amount: decimal.NewFromFloat(1.00)}
			p.Transfer(context.Background(), cmd, testLedgerConfig())
		}(i)
	}
	wg.Wait()

	aliceBalance, _ := mr.HGet("wallet:alice", "balance")
	bobBalance, _ := mr.HGet("wallet:bob", "balance")
	alice, err := decimal.NewFromString(aliceBalance)
	require.NoError(t, err)
	bob, err := decimal.NewFromString(bobBalance)
	require.NoError(t, err)

	total := alice.Add(bob)
	assert.True(t, total.Equal(decimal.NewFromFloat(200.00)), "total balance across the pair must be conserved regardless of interleaving")
}

func idFor(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}
