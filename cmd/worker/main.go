package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"academy/internal/config"
	"academy/internal/feed"
	"academy/internal/gateway"
	"academy/internal/ledger"
	"academy/internal/logger"
	"academy/internal/payment"
	"academy/internal/queue"
	"academy/internal/recordstore"
	"academy/internal/store"
)

// Worker drains verified gateway webhooks and records the captured payments.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(os.Stderr, logger.INFO).Fatalf("config: %v", err)
	}
	log := logger.New(os.Stdout, logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.Dir != "" {
		if l, err := logger.NewFile(cfg.Log.Dir, logger.ParseLevel(cfg.Log.Level)); err == nil {
			log = l
		}
	}

	// config.Load already requires postgres and a redis feed with a redis queue
	if cfg.QueueBackend != "redis" {
		log.Fatalf("the worker needs QUEUE_BACKEND=redis; with %q the API settles webhooks inline", cfg.QueueBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet; the queue consumer will keep retrying")
	}

	records := recordstore.NewPostgres(db.Client, feed.NewRedisPubSub(redisClient.Client, ""))
	records.SetLogger(log)
	q := queue.NewRedisQueue(redisClient.Client, queue.WebhookKey)

	gw := gateway.New(gateway.Config{
		BaseURL:       cfg.Razorpay.BaseURL,
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
		Timeout:       cfg.Razorpay.Timeout,
		Skip:          cfg.Razorpay.Skip,
	})
	svc := payment.NewService(payment.Options{
		Store:    records,
		Gateway:  gw,
		Ledger:   ledger.NewService(ledger.StoreSource{Store: records}, cfg.Fees.DefaultMinor),
		Queue:    q,
		Currency: cfg.Razorpay.Currency,
		Log:      log,
	})

	w := payment.NewWorker(svc, q, cfg.Worker.MaxAttempts, log)
	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Info("worker stopped")
}
