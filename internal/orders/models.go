package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is a price/quantity snapshot taken when the order is created.
type OrderItem struct {
	ProductID     string           `json:"product_id"`
	ProductName   string           `json:"product_name"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Quantity      int              `json:"quantity"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
}

func NewOrderItem(productID, name string, price decimal.Decimal, discount *decimal.Decimal, qty int) (OrderItem, error) {
	if qty <= 0 {
		return OrderItem{}, fmt.Errorf("quantity %d for %s: %w", qty, productID, apperr.ErrInvalidArgument)
	}
	if price.IsNegative() || (discount != nil && discount.IsNegative()) {
		return OrderItem{}, fmt.Errorf("negative price for %s: %w", productID, apperr.ErrInvalidArgument)
	}
	it := OrderItem{
		ProductID:     productID,
		ProductName:   name,
		Price:         price,
		DiscountPrice: discount,
		Quantity:      qty,
	}
	it.Subtotal = it.EffectivePrice().Mul(decimal.NewFromInt(int64(qty)))
	return it, nil
}

func (it OrderItem) EffectivePrice() decimal.Decimal {
	if it.DiscountPrice != nil {
		return *it.DiscountPrice
	}
	return it.Price
}

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	OrderCode   string          `json:"order_code"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewOrder freezes items and total; the order starts PENDING_PAYMENT.
func NewOrder(userID string, items []OrderItem, now time.Time) (*Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id: %w", apperr.ErrInvalidArgument)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("order without items: %w", apperr.ErrInvalidArgument)
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	id := uuid.New()
	return &Order{
		ID:          id.String(),
		UserID:      userID,
		OrderCode:   NewOrderCode(id, now),
		Items:       append([]OrderItem(nil), items...),
		TotalAmount: total,
		Status:      StatusPendingPayment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewOrderCode formats ORD-YYYYMMDD-XXXXXXXX from the order uuid.
func NewOrderCode(id uuid.UUID, now time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), hex[:8])
}

// TransitionTo moves the order to next. It reports false without error when
// next equals the current status or the order is already terminal: a
// redelivered event must not fail.
func (o *Order) TransitionTo(next Status, now time.Time) (bool, error) {
	if o.Status == "" || !o.Status.Valid() {
		return false, fmt.Errorf("order %s has no valid status %q: %w", o.ID, o.Status, apperr.ErrInvalidTransition)
	}
	if next == o.Status || o.Status.Terminal() {
		return false, nil
	}
	if !CanTransition(o.Status, next) {
		return false, invalidTransition(o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return true, nil
}

func (o *Order) Cancel(now time.Time) (bool, error)     { return o.TransitionTo(StatusCancelled, now) }
func (o *Order) MarkAsPaid(now time.Time) (bool, error) { return o.TransitionTo(StatusPaid, now) }
func (o *Order) Ship(now time.Time) (bool, error)       { return o.TransitionTo(StatusShipping, now) }
func (o *Order) Deliver(now time.Time) (bool, error)    { return o.TransitionTo(StatusDelivered, now) }
func (o *Order) Complete(now time.Time) (bool, error)   { return o.TransitionTo(StatusCompleted, now) }
