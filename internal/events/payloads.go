package events

import "github.com/shopspring/decimal"

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	UserID      string          `json:"user_id"`
	Items       []ItemQty       `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderPaidPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderClosedPayload is shared by OrderExpired and OrderCancelled.
type OrderClosedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
}

type PaymentCompletedPayload struct {
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}
