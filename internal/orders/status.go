package orders

import (
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipping       Status = "SHIPPING"
	StatusDelivered      Status = "DELIVERED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// validNext is the only place transitions are defined.
var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusShipping: true, StatusCancelled: true},
	StatusShipping:       {StatusDelivered: true},
	StatusDelivered:      {StatusCompleted: true},
	StatusCompleted:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%s -> %s: %w", from, to, apperr.ErrInvalidTransition)
}
