// Package producer is the request-producer test harness named out of the
// engine's own scope but needed to drive it end to end: it publishes
// synthetic transfer commands onto internal/bus, generating op ids with
// google/uuid exactly as the teacher generates webhook/event/delivery ids.
package producer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/bus"
	"wallet-transfer-engine/internal/models"
)

// Producer publishes synthetic transfer commands onto a bus.
type Producer struct {
	bus *bus.RedisBus
}

func New(b *bus.RedisBus) *Producer {
	return &Producer{bus: b}
}

// Submit publishes a single transfer command with a freshly minted op id and
// returns it so the caller can later poll GET /transfers/{op_id}.
func (p *Producer) Submit(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	opID := uuid.New().String()
	cmd := models.Command{OpID: opID, From: from, To: to, Amount: amount}
	if err := p.bus.Publish(ctx, cmd); err != nil {
		return "", fmt.Errorf("producer: publish %s: %w", opID, err)
	}
	return opID, nil
}

// SubmitBurst publishes count identical-shape transfers from a fixed
// {from, to} pair, useful for exercising the insufficient-balance race and
// the lock's serialization of a single bidirectional pair (spec.md §8).
func (p *Producer) SubmitBurst(ctx context.Context, from, to string, amount decimal.Decimal, count int) ([]string, error) {
	opIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		opID, err := p.Submit(ctx, from, to, amount)
		if err != nil {
			return opIDs, err
		}
		opIDs = append(opIDs, opID)
	}
	return opIDs, nil
}
