package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wallet-transfer-engine/internal/resultkind"
)

func TestRecord_TracksTotalsAndPerKindCounts(t *testing.T) {
	c := New()

	c.Record(resultkind.Applied)
	c.Record(resultkind.Applied)
	c.Record(resultkind.InsufficientFunds)

	assert.Equal(t, int64(3), c.Total())
	assert.Equal(t, int64(2), c.Applied())
	assert.Equal(t, int64(1), c.Rejected())
	assert.Equal(t, int64(2), c.CountOf(resultkind.Applied))
	assert.Equal(t, int64(1), c.CountOf(resultkind.InsufficientFunds))
	assert.Equal(t, int64(0), c.CountOf(resultkind.WalletNotFound))
}

func TestSnapshot_ReflectsRecordedKinds(t *testing.T) {
	c := New()
	c.Record(resultkind.Applied)
	c.Record(resultkind.LockUnavailable)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.Applied)
	assert.Equal(t, int64(1), snap.Rejected)
	assert.Equal(t, int64(1), snap.ByKind[resultkind.LockUnavailable])
}
