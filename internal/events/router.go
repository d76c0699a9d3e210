package events

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler must return nil only when the event may be acknowledged.
type Handler func(ctx context.Context, env Envelope) error

// Publisher sends an envelope to the topic owning its event type.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Router is the dispatch table from event type to handler.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{handlers: map[string]Handler{}, log: log}
}

// Handle registers h for eventType. Registering a type twice panics, the
// table is built once at startup.
func (r *Router) Handle(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[eventType]; dup {
		panic(fmt.Sprintf("events: handler for %s already registered", eventType))
	}
	r.handlers[eventType] = h
}

func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch runs the handler registered for env.EventType. Unknown types are
// acknowledged so foreign events on a shared topic don't block the partition.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.EventType]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("no handler for event", zap.String("event_type", env.EventType), zap.String("event_id", env.EventID))
		return nil
	}

	ctx, span := otel.Tracer("events").Start(ctx, "dispatch "+env.EventType, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", env.EventID),
		attribute.String("event.type", env.EventType),
		attribute.String("order.id", env.CorrelationID),
	)

	if err := h(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("handle %s %s: %w", env.EventType, env.EventID, err)
	}
	return nil
}
