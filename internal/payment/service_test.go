package payment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type scriptedGateway struct {
	calls   atomic.Int32
	results []error
}

func (g *scriptedGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	n := int(g.calls.Add(1)) - 1
	if n < len(g.results) && g.results[n] != nil {
		return "", g.results[n]
	}
	return "TX-1", nil
}

func newService(gw Gateway) (*Service, *events.Recorder) {
	rec := &events.Recorder{}
	return &Service{
		Repo:     NewMemoryRepo(),
		Gateway:  gw,
		Events:   rec,
		Log:      zap.NewNop(),
		Producer: "payment-service",
	}, rec
}

func created(orderID string) events.OrderCreatedPayload {
	return events.OrderCreatedPayload{OrderID: orderID, UserID: "u1", TotalAmount: decimal.RequireFromString("30.00")}
}

func TestOnOrderCreatedIsIdempotent(t *testing.T) {
	s, _ := newService(&scriptedGateway{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.OnOrderCreated(ctx, created("o1")); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	p, err := s.Get(ctx, "o1")
	if err != nil || p.Status != StatusPending || !p.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("payment = %+v err=%v", p, err)
	}
}

func TestPayCompletesOnce(t *testing.T) {
	gw := &scriptedGateway{}
	s, rec := newService(gw)
	ctx := context.Background()
	_ = s.OnOrderCreated(ctx, created("o1"))

	p, err := s.Pay(ctx, "o1")
	if err != nil || p.Status != StatusCompleted || p.TransactionID != "TX-1" {
		t.Fatalf("payment = %+v err=%v", p, err)
	}
	if _, err := s.Pay(ctx, "o1"); err != nil {
		t.Fatal(err)
	}
	if gw.calls.Load() != 1 {
		t.Fatalf("gateway charged %d times", gw.calls.Load())
	}
	done := rec.OfType(events.TypePaymentCompleted)
	if len(done) != 1 || done[0].CorrelationID != "o1" {
		t.Fatalf("PaymentCompleted events = %d", len(done))
	}
}

func TestPayFailureCanBeRetried(t *testing.T) {
	gw := &scriptedGateway{results: []error{ErrDeclined}}
	s, rec := newService(gw)
	ctx := context.Background()
	_ = s.OnOrderCreated(ctx, created("o1"))

	p, err := s.Pay(ctx, "o1")
	if err != nil || p.Status != StatusFailed || p.FailureReason != "declined" {
		t.Fatalf("payment = %+v err=%v", p, err)
	}
	if len(rec.OfType(events.TypePaymentFailed)) != 1 {
		t.Fatalf("PaymentFailed not published")
	}

	p, err = s.Pay(ctx, "o1")
	if err != nil || p.Status != StatusCompleted || p.FailureReason != "" {
		t.Fatalf("retry = %+v err=%v", p, err)
	}
}

func TestPayUnknownOrder(t *testing.T) {
	s, _ := newService(&scriptedGateway{})
	if _, err := s.Pay(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPayGatewayTimeout(t *testing.T) {
	s, _ := newService(SimulatedGateway{Latency: time.Second})
	s.GatewayTimeout = 10 * time.Millisecond
	ctx := context.Background()
	_ = s.OnOrderCreated(ctx, created("o1"))

	p, err := s.Pay(ctx, "o1")
	if err != nil || p.Status != StatusFailed || p.FailureReason != "gateway timeout" {
		t.Fatalf("payment = %+v err=%v", p, err)
	}
}

func TestOrderCreatedHandler(t *testing.T) {
	s, _ := newService(&scriptedGateway{})
	r := events.NewRouter(zap.NewNop())
	s.RegisterHandlers(r)

	env, _ := events.New(events.TypeOrderCreated, "order-service", "o9", created("o9"))
	if err := r.Dispatch(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "o9"); err != nil {
		t.Fatalf("payment not opened: %v", err)
	}
}

func TestSimulatedGatewayAlwaysDeclines(t *testing.T) {
	g := SimulatedGateway{FailureRate: 1}
	if _, err := g.Charge(context.Background(), ChargeRequest{Amount: decimal.NewFromInt(1)}); !errors.Is(err, ErrDeclined) {
		t.Fatalf("err = %v", err)
	}
	g.FailureRate = 0
	if tx, err := g.Charge(context.Background(), ChargeRequest{Amount: decimal.NewFromInt(1)}); err != nil || tx == "" {
		t.Fatalf("tx=%q err=%v", tx, err)
	}
}

// gatedGateway holds each charge until open is closed and fails the charge
// if its own context ends first.
type gatedGateway struct {
	calls   atomic.Int32
	entered chan struct{}
	open    chan struct{}
}

func (g *gatedGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.open:
		return "TX-9", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestPayCallerCancelDoesNotAbortSharedCharge(t *testing.T) {
	gw := &gatedGateway{entered: make(chan struct{}), open: make(chan struct{})}
	s, _ := newService(gw)
	s.GatewayTimeout = 5 * time.Second
	_ = s.OnOrderCreated(context.Background(), created("o1"))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Pay(first, "o1")
		firstErr <- err
	}()
	<-gw.entered

	type outcome struct {
		p   *Payment
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		p, err := s.Pay(context.Background(), "o1")
		second <- outcome{p, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	close(gw.open)

	got := <-second
	if got.err != nil || got.p.Status != StatusCompleted || got.p.TransactionID != "TX-9" {
		t.Fatalf("second caller = %+v err=%v", got.p, got.err)
	}
	if gw.calls.Load() != 1 {
		t.Fatalf("gateway charged %d times", gw.calls.Load())
	}
}
