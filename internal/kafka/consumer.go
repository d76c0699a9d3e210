package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		log:        log,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Start fetches until ctx is cancelled. Each partition is pinned to one
// worker, so messages sharing a key (same partition) are handled in order
// and offsets are committed in order. A failing message is retried with
// backoff and never committed until it succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	done := make(chan struct{}, c.workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 256)
		go func(in <-chan kafka.Message) {
			defer func() { done <- struct{}{} }()
			for m := range in {
				if !c.handleWithRetry(ctx, h, m) {
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error("commit failed", zap.Error(err), zap.String("topic", m.Topic),
						zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
				}
			}
		}(lanes[i])
	}

	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		for range lanes {
			<-done
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handleWithRetry reports false only when ctx ended before success.
func (c *Consumer) handleWithRetry(ctx context.Context, h Handler, m kafka.Message) bool {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler failed, will redeliver",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// EnvelopeHandler decodes the envelope, restores the producer's trace
// context and hands it to the router. Undecodable messages are logged and
// acknowledged, retrying them can never succeed.
func EnvelopeHandler(router *events.Router, log *zap.Logger) Handler {
	return func(ctx context.Context, m kafka.Message) error {
		var env events.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Error("dropping undecodable message",
				zap.Error(err),
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.ByteString("raw_value", m.Value),
			)
			return nil
		}
		if env.EventType == "" {
			log.Error("dropping envelope without event_type", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset))
			return nil
		}
		ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{&m.Headers})
		return router.Dispatch(ctx, env)
	}
}
