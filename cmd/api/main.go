package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"academy/internal/applications"
	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/config"
	"academy/internal/feed"
	"academy/internal/gateway"
	"academy/internal/httpapi"
	"academy/internal/httpmiddleware"
	"academy/internal/ledger"
	"academy/internal/logger"
	"academy/internal/metrics"
	"academy/internal/model"
	"academy/internal/payment"
	"academy/internal/queue"
	"academy/internal/realtime"
	"academy/internal/recordstore"
	"academy/internal/store"
	"academy/internal/students"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(os.Stderr, logger.INFO).Fatalf("config: %v", err)
	}
	log := newLogger(cfg)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func newLogger(cfg config.App) *logger.Logger {
	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.Dir == "" {
		return logger.New(os.Stdout, level)
	}
	log, err := logger.NewFile(cfg.Log.Dir, level)
	if err != nil {
		l := logger.New(os.Stdout, level)
		l.Warnf("file logging disabled: %v", err)
		return l
	}
	return log
}

// backends holds the store, feed and queue picked by configuration.
type backends struct {
	store  recordstore.Store
	queue  queue.Queue
	health map[string]httpapi.HealthCheck
	redis  *store.Redis
	close  func()
}

func openBackends(ctx context.Context, cfg config.App, log *logger.Logger) (*backends, error) {
	b := &backends{health: map[string]httpapi.HealthCheck{}, close: func() {}}
	var closers []func()

	needRedis := cfg.FeedBackend == "redis" || cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis"
	if needRedis {
		b.redis = store.NewRedis(cfg.RedisAddr)
		b.health["redis"] = b.redis.Healthy
		closers = append(closers, func() { _ = b.redis.Close() })
	}

	var f feed.Feed
	if cfg.FeedBackend == "redis" {
		f = feed.NewRedisPubSub(b.redis.Client, "")
	} else {
		f = feed.NewInMemory(256)
	}

	if cfg.StoreBackend == "postgres" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		pg := recordstore.NewPostgres(db.Client, f)
		pg.SetLogger(log)
		b.store = pg
		b.health["db"] = db.Healthy
		if cfg.FeedBackend == "memory" {
			log.Warn("FEED_BACKEND=memory: run a single API process, other writers' changes will not reach it")
		}
		closers = append(closers, func() { _ = db.Close() })
	} else {
		log.Warn("using the in-memory record store; data is lost on restart")
		mem := recordstore.NewMemory(f)
		mem.SetLogger(log)
		b.store = mem
	}

	if cfg.QueueBackend == "redis" {
		b.queue = queue.NewRedisQueue(b.redis.Client, queue.WebhookKey)
	}
	// with the memory backend webhooks settle inline, there is no worker to drain a local queue

	b.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return b, nil
}

func run(cfg config.App, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	resyncs := realtime.WithResyncHook(func(c recordstore.Collection) {
		metrics.RealtimeResyncs.WithLabelValues(string(c)).Inc()
	})
	roster := realtime.NewMirror[model.Student](be.store, recordstore.Students, log, resyncs)
	fees := realtime.NewMirror[model.FeeRecord](be.store, recordstore.FeeRecords, log, resyncs)
	rows := realtime.NewMirror[model.AttendanceRecord](be.store, recordstore.Attendance, log, resyncs)
	for _, m := range []interface{ Run(context.Context) error }{roster, fees, rows} {
		go func(m interface{ Run(context.Context) error }) {
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("mirror stopped: %v", err)
			}
		}(m)
	}

	gw := gateway.New(gateway.Config{
		BaseURL:       cfg.Razorpay.BaseURL,
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
		Timeout:       cfg.Razorpay.Timeout,
		Skip:          cfg.Razorpay.Skip,
	})
	if cfg.Razorpay.Skip {
		log.Warn("RAZORPAY_SKIP is set; gateway calls are faked")
	}
	if cfg.Razorpay.WebhookSecret == "" {
		log.Warn("RAZORPAY_WEBHOOK_SECRET not set; webhooks will be rejected")
	}

	// payments read the store directly so a balance check never sees a stale mirror
	payments := payment.NewService(payment.Options{
		Store:    be.store,
		Gateway:  gw,
		Ledger:   ledger.NewService(ledger.StoreSource{Store: be.store}, cfg.Fees.DefaultMinor),
		Queue:    be.queue,
		Currency: cfg.Razorpay.Currency,
		Log:      log,
	})

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(be.redis.Client, cfg.RateLimitPerMin)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Attendance:   attendance.NewService(attendance.NewRepository(be.store), log),
		Students:     students.NewService(be.store, log),
		Applications: applications.NewService(be.store, log),
		Ledger:       ledger.NewService(ledger.MirrorSource{Roster: roster, Fees: fees}, cfg.Fees.DefaultMinor),
		Payments:     payments,
		Views: realtime.Registry{
			recordstore.Students:   roster,
			recordstore.FeeRecords: fees,
			recordstore.Attendance: rows,
		},
		Signer: auth.Signer{
			Key:        cfg.JWT.SigningKey,
			Issuer:     cfg.JWT.Issuer,
			AccessTTL:  cfg.JWT.AccessTTL,
			RefreshTTL: cfg.JWT.RefreshTTL,
		},
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Health:      be.health,
		Log:         log,
	})

	// WriteTimeout stays zero: realtime streams are long lived. Request
	// contexts derive from ctx so that cancelling it ends those streams.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting server on :%s (store=%s feed=%s queue=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.FeedBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server...")

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server forced shutdown: %v", err)
	}
	log.Info("server exited")
	return nil
}
