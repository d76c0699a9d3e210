package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/notification"
	"github.com/ariefcatur/go-order-saga/internal/observability"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		log.Fatal("tracing", zap.Error(err))
	}

	bus := events.NewRouter(log)
	(&notification.Notifier{Sender: notification.LogSender{Log: log}, Log: log}).RegisterHandlers(bus)

	group := cfg.ConsumerGroup
	if group == "" {
		group = cfg.ServiceName
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicOrders, cfg.ConsumerWorkers, log)
	log.Info("notifier consumer started", zap.String("group", group), zap.String("topic", events.TopicOrders))
	if err := cons.Start(ctx, kafkax.EnvelopeHandler(bus, log)); err != nil {
		log.Error("consumer exit", zap.Error(err))
	}

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(tctx)
}
