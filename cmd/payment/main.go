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
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/observability"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
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
		log.Fatal("payment service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return err
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, payment.Schema); err != nil {
		return err
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	svc := &payment.Service{
		Repo:           &payment.Repo{DB: db},
		Gateway:        payment.SimulatedGateway{FailureRate: cfg.GatewayFailureRate, Latency: 50 * time.Millisecond},
		Events:         prod,
		Log:            log,
		Producer:       cfg.ServiceName,
		GatewayTimeout: cfg.GatewayTimeout,
	}

	bus := events.NewRouter(log)
	svc.RegisterHandlers(bus)
	group := cfg.ConsumerGroup
	if group == "" {
		group = cfg.ServiceName
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicOrders, cfg.ConsumerWorkers, log)

	router := httpx.NewRouter(log, cfg.MaxInflight)
	(&httpx.PaymentHandler{Svc: svc, Log: log}).Register(router)
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
		log.Info("order consumer started", zap.String("group", group), zap.String("topic", events.TopicOrders))
		return cons.Start(gctx, kafkax.EnvelopeHandler(bus, log))
	})

	err = g.Wait()
	prod.Close()
	tctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = shutdownTracing(tctx)
	return err
}
