package inventory

import "context"

// Store is the ledger persistence. Reduce paths serialise on the row;
// Add/Restore may use optimistic versioning.
type Store interface {
	Get(ctx context.Context, productID string) (Record, error)
	Reduce(ctx context.Context, productID string, qty int) (Record, error)
	// ReduceAll applies every row or none and records the reservation
	// under orderID. Repeating it for an order already reserved is a no-op;
	// an order already released is refused with ErrConflict.
	ReduceAll(ctx context.Context, orderID string, items []Item) error
	// ReleaseItem hands back what orderID reserved of one product and
	// returns the quantity restored, zero when it was already released.
	// Without a reservation row it falls back to a plain Restore.
	ReleaseItem(ctx context.Context, orderID string, it Item) (int, error)
	// ReleaseOrder hands back everything still reserved under orderID.
	ReleaseOrder(ctx context.Context, orderID string) ([]Item, error)
	Add(ctx context.Context, productID string, qty int) (Record, error)
	Restore(ctx context.Context, productID string, qty int) (Record, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}
