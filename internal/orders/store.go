package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

// ErrDuplicateCode is returned by Create when another order already holds
// the order code. The caller picks a new code and tries again.
var ErrDuplicateCode = fmt.Errorf("order code already taken: %w", apperr.ErrConflict)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatus is a compare-and-set: it fails with apperr.ErrConflict
	// when the stored status is no longer expected.
	UpdateStatus(ctx context.Context, id string, expected, next Status, at time.Time) error
	ListByStatusBefore(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Order, error)
}

// StatusCache holds the last committed status of an order. Writers Set it
// after every committed transition; readers only Fill it, which never
// overwrites a value already there, so a slow read cannot replace a newer
// status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (Status, bool)
	Set(ctx context.Context, orderID string, s Status)
	Fill(ctx context.Context, orderID string, s Status)
}
