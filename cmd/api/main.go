package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/observability"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/reconciler"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("order service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return err
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, orders.Schema); err != nil {
		return err
	}

	// Redis: status cache + sweep lock, optional
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var (
		cache orders.StatusCache
		lock  reconciler.Locker
	)
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable, running without status cache and sweep lock", zap.Error(err))
	} else {
		cache = redisx.NewStatusCache(rdb, log)
		lock = redisx.NewLock(rdb, "order-expiration", cfg.ExpirationLockTTL)
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	repo := &orders.Repo{DB: db}
	stock := inventory.NewClient(cfg.InventoryURL, cfg.InventoryTimeout)
	svc := &orders.Service{
		Repo:     repo,
		Stock:    stock,
		Catalog:  stock,
		Events:   prod,
		Cache:    cache,
		Log:      log,
		Producer: cfg.ServiceName,
	}

	bus := events.NewRouter(log)
	svc.RegisterHandlers(bus)
	group := cfg.ConsumerGroup
	if group == "" {
		group = cfg.ServiceName
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicPayments, cfg.ConsumerWorkers, log)

	sweeper := &reconciler.Reconciler{
		Orders:      repo,
		Expirer:     svc,
		Lock:        lock,
		Log:         log.Named("reconciler"),
		Interval:    cfg.ExpirationInterval,
		Timeout:     time.Duration(cfg.ExpirationTimeoutHrs) * time.Hour,
		Concurrency: cfg.ExpirationConcurrency,
	}

	router := httpx.NewRouter(log, cfg.MaxInflight)
	(&httpx.OrdersHandler{Svc: svc, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		log.Info("payment consumer started", zap.String("group", group), zap.String("topic", events.TopicPayments),
			zap.Strings("types", bus.Types()))
		return cons.Start(gctx, kafkax.EnvelopeHandler(bus, log))
	})
	g.Go(func() error {
		if err := sweeper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err = g.Wait()
	log.Info("shutting down")
	prod.Close() // tutup inbox -> flush & close writer

	tctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if terr := shutdownTracing(tctx); terr != nil {
		log.Warn("tracing shutdown", zap.Error(terr))
	}
	return err
}
