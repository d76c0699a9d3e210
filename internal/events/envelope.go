package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOrderCreated     = "OrderCreated"
	TypeOrderPaid        = "OrderPaid"
	TypeOrderCancelled   = "OrderCancelled"
	TypeOrderExpired     = "OrderExpired"
	TypePaymentCompleted = "PaymentCompleted"
	TypePaymentFailed    = "PaymentFailed"
)

const (
	TopicOrders   = "orders.events"
	TopicPayments = "payments.events"
)

// TopicFor routes an event type to the topic owned by its producing service.
func TopicFor(eventType string) string {
	switch eventType {
	case TypePaymentCompleted, TypePaymentFailed:
		return TopicPayments
	default:
		return TopicOrders
	}
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a v1 envelope keyed by orderID.
func New(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// Decode unwraps the payload of env into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// Partition key = order id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
