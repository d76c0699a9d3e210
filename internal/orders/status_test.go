package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

var allStatuses = []Status{
	StatusPendingPayment, StatusPaid, StatusShipping,
	StatusDelivered, StatusCompleted, StatusCancelled,
}

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPendingPayment: {StatusPaid, StatusCancelled},
		StatusPaid:           {StatusShipping, StatusCancelled},
		StatusShipping:       {StatusDelivered},
		StatusDelivered:      {StatusCompleted},
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			o := &Order{ID: "o1", Status: from}
			changed, err := o.TransitionTo(to, now)

			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			switch {
			case from == to || from.Terminal():
				if err != nil || changed {
					t.Errorf("%s -> %s: want no-op, got changed=%v err=%v", from, to, changed, err)
				}
				if o.Status != from {
					t.Errorf("%s -> %s: status moved to %s", from, to, o.Status)
				}
			case want:
				if err != nil || !changed || o.Status != to || !o.UpdatedAt.Equal(now) {
					t.Errorf("%s -> %s: changed=%v err=%v status=%s", from, to, changed, err, o.Status)
				}
			default:
				if !errors.Is(err, apperr.ErrInvalidTransition) {
					t.Errorf("%s -> %s: err = %v, want invalid transition", from, to, err)
				}
				if o.Status != from {
					t.Errorf("%s -> %s: rejected transition changed status to %s", from, to, o.Status)
				}
			}
		}
	}
}

func TestTransitionWithoutStatusFails(t *testing.T) {
	o := &Order{ID: "o1"}
	if _, err := o.MarkAsPaid(time.Now()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range allStatuses {
		want := s == StatusCompleted || s == StatusCancelled
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
}
