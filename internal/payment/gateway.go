package payment

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrDeclined = errors.New("payment declined")

type ChargeRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
}

// Gateway charges the customer and returns the provider transaction id.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// SimulatedGateway approves charges after Latency, declining FailureRate of
// them at random.
type SimulatedGateway struct {
	FailureRate float64
	Latency     time.Duration
}

func (g SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if g.Latency > 0 {
		t := time.NewTimer(g.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if !req.Amount.IsPositive() {
		return "", ErrDeclined
	}
	if g.FailureRate > 0 && rand.Float64() < g.FailureRate {
		return "", ErrDeclined
	}
	return "TX-" + uuid.NewString(), nil
}
