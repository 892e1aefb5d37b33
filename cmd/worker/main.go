package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// checkinEvent mirrors the audit message the API publishes per accepted
// check-in. It carries no PII.
type checkinEvent struct {
	SessionID string `json:"session_id"`
	ClassName string `json:"class_name"`
	Date      string `json:"date"`
}

// Worker consumes check-in audit events and maintains per-class daily
// attendance counters in Redis.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:checkins")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("stats worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		var evt checkinEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("malformed checkin event: %v", err)
			continue
		}
		if evt.ClassName == "" || evt.Date == "" {
			continue
		}

		key := "rollcall:stats:" + evt.Date
		if err := redisClient.Client.HIncrBy(ctx, key, evt.ClassName, 1).Err(); err != nil {
			log.Printf("stats update failed for %s/%s: %v", evt.Date, evt.ClassName, err)
			continue
		}
		log.Printf("recorded check-in for %s on %s (session %s)", evt.ClassName, evt.Date, evt.SessionID)
	}

	log.Println("worker stopped")
}
