package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes envelopes without blocking the caller: messages go to
// an inbox and a single goroutine writes them. Write failures are logged,
// never surfaced to the transition that produced the event.
type Producer struct {
	w     messageWriter
	inbox chan kafka.Message
	done  chan struct{}
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool

	writeTimeout time.Duration
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, buf, log)
}

func newProducer(w messageWriter, buf int, log *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{
		w:            w,
		inbox:        make(chan kafka.Message, buf),
		done:         make(chan struct{}),
		log:          log,
		writeTimeout: 10 * time.Second,
	}
}

func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("kafka publish failed",
					zap.Error(err),
					zap.String("topic", m.Topic),
					zap.ByteString("key", m.Key),
					zap.String("event_type", headerValue(m.Headers, HeaderEventType)),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.Error(err))
		}
	}()
}

// Publish implements events.Publisher.
func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{&headers})

	m := kafka.Message{
		Topic:   events.TopicFor(env.EventType),
		Key:     events.PartitionKey(env.CorrelationID),
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return fmt.Errorf("producer inbox full (%d), dropping %s", cap(p.inbox), env.EventType)
	}
}

// Close stops intake, flushes what is queued and waits for the writer.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}
