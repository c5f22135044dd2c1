package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/codes"
	"rollcall/internal/config"
	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/reconcile"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// Reconciler is the stateless end-of-day sweep, invoked once per day by an
// external scheduler (cron). It back-fills ABSENT records for students
// without a ledger entry, flips expired codes inactive, and exits. Because
// the sweep is idempotent, an aborted or repeated run is harmless.
func main() {
	dateFlag := flag.String("date", "", "day to reconcile as YYYY-MM-DD (default: today in the academy timezone)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	}

	loc := cfg.Location()
	students := roster.NewRepository(db.Client)
	ledgerRepo := ledger.NewRepository(db.Client)
	writer, err := ledger.NewWriter(ledgerRepo, events, loc, cfg.LateCutoff)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}

	var date ledger.Date
	if *dateFlag != "" {
		if date, err = ledger.ParseDate(*dateFlag); err != nil {
			log.Fatalf("bad -date: %v", err)
		}
	}

	job := reconcile.NewJob(students, writer, loc, cfg.WorkerCount)
	summary, _, err := job.Run(ctx, date)
	if err != nil {
		log.Fatalf("reconcile run failed: %v", err)
	}

	codeSvc := codes.NewService(codes.NewRepository(db.Client), codes.NewCache(redisClient.Client), cfg.CodeAttempts, cfg.CodeTTL)
	expired, err := codeSvc.ExpireStale(ctx)
	if err != nil {
		log.Printf("warning: expired-code cleanup failed: %v", err)
	} else if expired > 0 {
		log.Printf("deactivated %d expired codes", expired)
	}

	log.Printf("done: date=%s eligible=%d absent=%d skipped=%d failed=%d",
		summary.Date, summary.TotalEligible, summary.AbsentMarked, summary.Skipped, summary.Failed)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
