// cmd/loadgen is a small CLI driver for internal/producer: it publishes a
// burst of synthetic transfer commands onto the bus, in the teacher's
// flag/env configuration idiom (cmd/server/main.go reads its knobs from the
// environment the same way).
package main

import (
	"context"
	"flag"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/bus"
	"wallet-transfer-engine/internal/config"
	"wallet-transfer-engine/internal/producer"
)

func main() {
	from := flag.String("from", "alice", "source wallet id")
	to := flag.String("to", "bob", "destination wallet id")
	amount := flag.String("amount", "10.00", "transfer amount")
	count := flag.Int("count", 10, "number of transfers to publish")
	flag.Parse()

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatalf("invalid amount %q: %v", *amount, err)
	}

	cfg := config.Load()
	opts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		log.Fatalf("failed to parse BUS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	p := producer.New(bus.NewRedisBus(client))

	opIDs, err := p.SubmitBurst(context.Background(), *from, *to, amt, *count)
	if err != nil {
		log.Fatalf("failed to submit burst after %d ops: %v", len(opIDs), err)
	}

	log.Printf("published %d transfers from %s to %s", len(opIDs), *from, *to)
	for _, id := range opIDs {
		log.Printf("  op_id=%s", id)
	}
}
