package events

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestRouterDispatchByType(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var paid, failed int
	r.Handle(TypePaymentCompleted, func(ctx context.Context, env Envelope) error {
		p, err := Decode[PaymentCompletedPayload](env)
		if err != nil {
			return err
		}
		if p.OrderID != "o-1" {
			t.Fatalf("order id = %q", p.OrderID)
		}
		paid++
		return nil
	})
	r.Handle(TypePaymentFailed, func(ctx context.Context, env Envelope) error {
		failed++
		return nil
	})

	env, err := New(TypePaymentCompleted, "payment", "o-1", PaymentCompletedPayload{OrderID: "o-1", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if paid != 1 || failed != 0 {
		t.Fatalf("paid=%d failed=%d", paid, failed)
	}
}

func TestRouterUnknownTypeIsAcked(t *testing.T) {
	r := NewRouter(zap.NewNop())
	env, _ := New("SomethingElse", "x", "o-1", struct{}{})
	if err := r.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("unknown type should be ignored, got %v", err)
	}
}

func TestRouterHandlerErrorIsWrapped(t *testing.T) {
	r := NewRouter(zap.NewNop())
	boom := errors.New("boom")
	r.Handle(TypeOrderCreated, func(ctx context.Context, env Envelope) error { return boom })
	env, _ := New(TypeOrderCreated, "x", "o-1", struct{}{})
	if err := r.Dispatch(context.Background(), env); !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
}

func TestRouterDuplicateRegistrationPanics(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Handle(TypeOrderPaid, func(context.Context, Envelope) error { return nil })
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.Handle(TypeOrderPaid, func(context.Context, Envelope) error { return nil })
}

func TestTopicFor(t *testing.T) {
	if TopicFor(TypePaymentFailed) != TopicPayments {
		t.Fatalf("payment events belong on %s", TopicPayments)
	}
	if TopicFor(TypeOrderExpired) != TopicOrders {
		t.Fatalf("order events belong on %s", TopicOrders)
	}
}
