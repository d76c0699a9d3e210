package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/google/uuid"
)

// MemoryStore keeps one mutex per row, the in-process equivalent of the
// FOR UPDATE lock, and one per order for the reservation ledger. An order
// lock is always taken before any row lock. Used for tests and
// single-process runs.
type MemoryStore struct {
	mu       sync.RWMutex
	rows     map[string]*memRow
	products map[string]Product
	orders   map[string]*memOrder
}

type memRow struct {
	mu  sync.Mutex
	rec Record
}

// memOrder holds the reservations of one order keyed by product id.
type memOrder struct {
	mu   sync.Mutex
	rows map[string]*memReservation
}

type memReservation struct {
	qty    int
	status string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     map[string]*memRow{},
		products: map[string]Product{},
		orders:   map[string]*memOrder{},
	}
}

func (m *MemoryStore) order(orderID string) *memOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		o = &memOrder{rows: map[string]*memReservation{}}
		m.orders[orderID] = o
	}
	return o
}

// Reservation reports the ledger row for (orderID, productID).
func (m *MemoryStore) Reservation(orderID, productID string) (qty int, status string, ok bool) {
	o := m.order(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[productID]
	if !ok {
		return 0, "", false
	}
	return r.qty, r.status, true
}

// PutProduct seeds the catalog view.
func (m *MemoryStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemoryStore) row(productID string) (*memRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[productID]
	if !ok {
		return nil, fmt.Errorf("inventory %s: %w", productID, apperr.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) Get(ctx context.Context, productID string) (Record, error) {
	r, err := m.row(productID)
	if err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec, nil
}

func (m *MemoryStore) Reduce(ctx context.Context, productID string, qty int) (Record, error) {
	r, err := m.row(productID)
	if err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.rec
	if err := next.ReduceStock(qty); err != nil {
		return Record{}, err
	}
	next.UpdatedAt = time.Now()
	r.rec = next
	return next, nil
}

func (m *MemoryStore) ReduceAll(ctx context.Context, orderID string, items []Item) error {
	o := m.order(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.rows) > 0 {
		for _, r := range o.rows {
			if r.status == ReservationReserved {
				return nil
			}
		}
		return errOrderReleased(orderID)
	}

	merged := merge(items)
	locked := make([]*memRow, 0, len(merged))
	defer func() {
		for _, r := range locked {
			r.mu.Unlock()
		}
	}()

	var short []Shortage
	next := make([]Record, len(merged))
	for i, it := range merged {
		r, err := m.row(it.ProductID)
		if err != nil {
			short = append(short, Shortage{ProductID: it.ProductID, Required: it.Qty})
			continue
		}
		r.mu.Lock()
		locked = append(locked, r)
		next[i] = r.rec
		if err := next[i].ReduceStock(it.Qty); err != nil {
			var ise *InsufficientStockError
			if errors.As(err, &ise) {
				short = append(short, ise.Shortages...)
				continue
			}
			return err
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Shortages: short}
	}
	now := time.Now()
	for i, r := range locked {
		next[i].UpdatedAt = now
		r.rec = next[i]
	}
	for _, it := range merged {
		o.rows[it.ProductID] = &memReservation{qty: it.Qty, status: ReservationReserved}
	}
	return nil
}

func (m *MemoryStore) ReleaseItem(ctx context.Context, orderID string, it Item) (int, error) {
	o := m.order(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[it.ProductID]
	if !ok {
		if _, err := m.Restore(ctx, it.ProductID, it.Qty); err != nil {
			return 0, err
		}
		return it.Qty, nil
	}
	if r.status == ReservationReleased {
		return 0, nil
	}
	if _, err := m.Restore(ctx, it.ProductID, r.qty); err != nil {
		return 0, err
	}
	r.status = ReservationReleased
	return r.qty, nil
}

func (m *MemoryStore) ReleaseOrder(ctx context.Context, orderID string) ([]Item, error) {
	o := m.order(orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.rows) == 0 {
		o.rows[releasedMarker] = &memReservation{status: ReservationReleased}
		return nil, nil
	}
	var pending []Item
	for pid, r := range o.rows {
		if r.status == ReservationReserved {
			pending = append(pending, Item{ProductID: pid, Qty: r.qty})
		}
	}
	pending = merge(pending)
	released := make([]Item, 0, len(pending))
	for _, it := range pending {
		if _, err := m.Restore(ctx, it.ProductID, it.Qty); err != nil {
			return released, err
		}
		o.rows[it.ProductID].status = ReservationReleased
		released = append(released, it)
	}
	return released, nil
}

func (m *MemoryStore) Add(ctx context.Context, productID string, qty int) (Record, error) {
	if qty <= 0 {
		return Record{}, fmt.Errorf("quantity %d: %w", qty, apperr.ErrInvalidArgument)
	}
	m.mu.Lock()
	if _, ok := m.rows[productID]; !ok {
		m.rows[productID] = &memRow{rec: Record{ID: uuid.NewString(), ProductID: productID}}
	}
	m.mu.Unlock()
	return m.Restore(ctx, productID, qty)
}

func (m *MemoryStore) Restore(ctx context.Context, productID string, qty int) (Record, error) {
	r, err := m.row(productID)
	if err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.rec
	if err := next.RestoreStock(qty); err != nil {
		return Record{}, err
	}
	next.UpdatedAt = time.Now()
	r.rec = next
	return next, nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, productID string) (Product, error) {
	m.mu.RLock()
	p, ok := m.products[productID]
	m.mu.RUnlock()
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", productID, apperr.ErrNotFound)
	}
	if rec, err := m.Get(ctx, productID); err == nil {
		p.Available = rec.Quantity
	}
	return p, nil
}
