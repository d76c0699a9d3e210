package inventory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/shopspring/decimal"
)

// Record is one inventory row. Quantity never goes below zero and every
// mutation bumps Version.
type Record struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) HasStock(qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("quantity %d for %s: %w", qty, r.ProductID, apperr.ErrInvalidArgument)
	}
	return r.Quantity >= qty, nil
}

func (r *Record) ReduceStock(qty int) error {
	ok, err := r.HasStock(qty)
	if err != nil {
		return err
	}
	if !ok {
		return &InsufficientStockError{Shortages: []Shortage{{ProductID: r.ProductID, Required: qty, Available: r.Quantity}}}
	}
	r.Quantity -= qty
	r.Version++
	return nil
}

func (r *Record) AddStock(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("quantity %d for %s: %w", qty, r.ProductID, apperr.ErrInvalidArgument)
	}
	r.Quantity += qty
	r.Version++
	return nil
}

// RestoreStock is the compensation path; it is an AddStock.
func (r *Record) RestoreStock(qty int) error { return r.AddStock(qty) }

type Item struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// InsufficientStockError carries every short row of a reduction.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (required %d, available %d)", s.ProductID, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Unwrap() error { return apperr.ErrInsufficientStock }

type ItemFailure struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Error     string `json:"error"`
}

// BatchResult reports a per-row batch. Failed rows need manual reconciliation.
type BatchResult struct {
	Applied []Item        `json:"applied"`
	Failed  []ItemFailure `json:"failed,omitempty"`
}

func (b BatchResult) OK() bool { return len(b.Failed) == 0 }

// Reservation states. Reserving is idempotent per order and releasing moves
// a row RESERVED -> RELEASED exactly once.
const (
	ReservationReserved = "RESERVED"
	ReservationReleased = "RELEASED"
)

// releasedMarker is the product id of the row written when an order is
// released before anything was reserved for it.
const releasedMarker = ""

func errOrderReleased(orderID string) error {
	return fmt.Errorf("reservation for order %s already released: %w", orderID, apperr.ErrConflict)
}

// Product is the read-only catalog view the order service snapshots items
// from. Available mirrors the ledger quantity at read time.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Active        bool             `json:"active"`
	Available     int              `json:"available"`
}

// merge folds duplicate product lines and sorts by product id, the lock
// order every batch path uses.
func merge(items []Item) []Item {
	idx := map[string]int{}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
