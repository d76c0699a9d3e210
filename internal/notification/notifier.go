package notification

import (
	"context"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOrderPaid      Kind = "order_paid"
	KindOrderCancelled Kind = "order_cancelled"
	KindOrderExpired   Kind = "order_expired"
)

type Notification struct {
	Kind    Kind
	OrderID string
	UserID  string
	Amount  decimal.Decimal
	Reason  string
	EventID string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes one structured line per notification. Content and
// channels live elsewhere.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(ctx context.Context, n Notification) error {
	s.Log.Info("notify user",
		zap.String("kind", string(n.Kind)),
		zap.String("order_id", n.OrderID),
		zap.String("user_id", n.UserID),
		zap.String("amount", n.Amount.StringFixed(2)),
		zap.String("reason", n.Reason),
		zap.String("event_id", n.EventID),
	)
	return nil
}

type Notifier struct {
	Sender Sender
	Log    *zap.Logger
}

func (n *Notifier) RegisterHandlers(r *events.Router) {
	r.Handle(events.TypeOrderPaid, func(ctx context.Context, env events.Envelope) error {
		p, err := events.Decode[events.OrderPaidPayload](env)
		if err != nil {
			n.Log.Warn("drop undecodable event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return n.Sender.Send(ctx, Notification{Kind: KindOrderPaid, OrderID: p.OrderID, UserID: p.UserID, Amount: p.TotalAmount, EventID: env.EventID})
	})
	r.Handle(events.TypeOrderCancelled, n.closed(KindOrderCancelled))
	r.Handle(events.TypeOrderExpired, n.closed(KindOrderExpired))
}

func (n *Notifier) closed(kind Kind) events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		p, err := events.Decode[events.OrderClosedPayload](env)
		if err != nil {
			n.Log.Warn("drop undecodable event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return n.Sender.Send(ctx, Notification{
			Kind:    kind,
			OrderID: p.OrderID,
			UserID:  p.UserID,
			Amount:  p.TotalAmount,
			Reason:  p.Reason,
			EventID: env.EventID,
		})
	}
}
