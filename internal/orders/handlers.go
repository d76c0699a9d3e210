package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"go.uber.org/zap"
)

// RegisterHandlers binds the payment outcome events to the order service.
func (s *Service) RegisterHandlers(r *events.Router) {
	r.Handle(events.TypePaymentCompleted, func(ctx context.Context, env events.Envelope) error {
		p, err := events.Decode[events.PaymentCompletedPayload](env)
		if err != nil {
			s.Log.Warn("drop undecodable event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return s.ack(env, s.OnPaymentCompleted(ctx, p.OrderID))
	})
	r.Handle(events.TypePaymentFailed, func(ctx context.Context, env events.Envelope) error {
		p, err := events.Decode[events.PaymentFailedPayload](env)
		if err != nil {
			s.Log.Warn("drop undecodable event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return s.ack(env, s.OnPaymentFailed(ctx, p.OrderID, p.Reason))
	})
}

// ack decides whether a handler error is worth a redelivery. Unknown orders
// and rejected transitions never become valid by retrying.
func (s *Service) ack(env events.Envelope, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidTransition):
		s.Log.Warn("event rejected",
			zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType),
			zap.String("order_id", env.CorrelationID),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}
