package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Payment belongs to exactly one order; OrderID is unique.
type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Repository interface {
	// Create fails with apperr.ErrConflict when the order already has a payment.
	Create(ctx context.Context, p *Payment) error
	GetByOrder(ctx context.Context, orderID string) (*Payment, error)
	// Update writes p only if the stored status is still expected.
	Update(ctx context.Context, p *Payment, expected Status) error
}
