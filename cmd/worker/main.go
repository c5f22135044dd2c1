package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes ledger write events and maintains per-academy daily
// usage rollups in Redis for billing and reporting consumers.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	}

	messages, err := events.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for attendance events...")
	for msg := range messages {
		if msg.Type != ledger.EventType {
			continue
		}

		var evt ledger.RecordEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad event payload: %v", err)
			continue
		}
		if evt.AcademyID == "" || evt.Date == "" {
			continue
		}

		// One hash per academy per day, field per status. Status changes
		// re-increment; the rollup is an approximation reconciled against
		// the ledger by the billing exporter.
		key := fmt.Sprintf("rollcall:usage:%s:%s", evt.AcademyID, evt.Date)
		if err := redisClient.Client.HIncrBy(ctx, key, evt.Status, 1).Err(); err != nil {
			log.Printf("rollup update failed for %s: %v", key, err)
			continue
		}
	}

	log.Println("worker stopped")
}
