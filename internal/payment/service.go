package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Service struct {
	Repo           Repository
	Gateway        Gateway
	Events         events.Publisher
	Log            *zap.Logger
	Producer       string
	GatewayTimeout time.Duration

	inflight singleflight.Group
}

// OnOrderCreated opens a PENDING payment for the order. A redelivered
// OrderCreated finds the payment already there and does nothing.
func (s *Service) OnOrderCreated(ctx context.Context, p events.OrderCreatedPayload) error {
	now := time.Now().UTC()
	pay := &Payment{
		ID:        uuid.NewString(),
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    p.TotalAmount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.Repo.Create(ctx, pay)
	if errors.Is(err, apperr.ErrConflict) {
		s.Log.Debug("payment already open", zap.String("order_id", p.OrderID))
		return nil
	}
	if err != nil {
		return err
	}
	s.Log.Info("payment opened", zap.String("order_id", p.OrderID), zap.String("payment_id", pay.ID),
		zap.String("amount", pay.Amount.StringFixed(2)))
	return nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Payment, error) {
	return s.Repo.GetByOrder(ctx, orderID)
}

// Pay charges the order's payment. Concurrent calls for one order share a
// single charge; paying a completed payment returns it unchanged. The shared
// charge is detached from the caller that started it and bounded by
// GatewayTimeout, so a caller giving up only abandons its own wait.
func (s *Service) Pay(ctx context.Context, orderID string) (*Payment, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(orderID, func() (any, error) {
		return s.pay(shared, orderID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("pay order %s: %w", orderID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := *res.Val.(*Payment)
		return &p, nil
	}
}

func (s *Service) pay(ctx context.Context, orderID string) (*Payment, error) {
	p, err := s.Repo.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		return p, nil
	}
	prev := p.Status

	timeout := s.GatewayTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	txID, chargeErr := s.Gateway.Charge(cctx, ChargeRequest{PaymentID: p.ID, OrderID: p.OrderID, Amount: p.Amount})
	cancel()

	p.UpdatedAt = time.Now().UTC()
	if chargeErr != nil {
		p.Status = StatusFailed
		p.FailureReason = failureReason(chargeErr)
	} else {
		p.Status = StatusCompleted
		p.TransactionID = txID
		p.FailureReason = ""
	}
	if err := s.Repo.Update(ctx, p, prev); err != nil {
		// the charge went through but was not recorded
		s.Log.Error("record payment outcome failed",
			zap.String("order_id", orderID),
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record payment %s: %w", p.ID, err)
	}

	if chargeErr != nil {
		s.Log.Warn("payment failed", zap.String("order_id", orderID), zap.String("reason", p.FailureReason))
		s.publish(ctx, events.TypePaymentFailed, orderID, events.PaymentFailedPayload{
			OrderID:   orderID,
			PaymentID: p.ID,
			Reason:    p.FailureReason,
		})
		return p, nil
	}
	s.Log.Info("payment completed", zap.String("order_id", orderID), zap.String("transaction_id", txID))
	s.publish(ctx, events.TypePaymentCompleted, orderID, events.PaymentCompletedPayload{
		OrderID:       orderID,
		PaymentID:     p.ID,
		TransactionID: txID,
		Amount:        p.Amount,
	})
	return p, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDeclined):
		return "declined"
	case errors.Is(err, context.DeadlineExceeded):
		return "gateway timeout"
	default:
		return err.Error()
	}
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := events.New(eventType, s.Producer, orderID, payload)
	if err == nil {
		err = s.Events.Publish(ctx, env)
	}
	if err != nil {
		s.Log.Error("publish failed", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}

// RegisterHandlers binds OrderCreated to the payment service.
func (s *Service) RegisterHandlers(r *events.Router) {
	r.Handle(events.TypeOrderCreated, func(ctx context.Context, env events.Envelope) error {
		p, err := events.Decode[events.OrderCreatedPayload](env)
		if err != nil || p.OrderID == "" {
			s.Log.Warn("drop undecodable event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return s.OnOrderCreated(ctx, p)
	})
}
