package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

// MemoryRepo keeps orders in process. Stored orders are copied on the way in
// and out so callers never share state with the repo.
type MemoryRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{orders: map[string]*Order{}}
}

func clone(o *Order) *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}

func (m *MemoryRepo) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s exists: %w", o.ID, apperr.ErrConflict)
	}
	for _, other := range m.orders {
		if other.OrderCode == o.OrderCode {
			return fmt.Errorf("order %s code %s: %w", o.ID, o.OrderCode, ErrDuplicateCode)
		}
	}
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return clone(o), nil
}

func (m *MemoryRepo) UpdateStatus(ctx context.Context, id string, expected, next Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if o.Status != expected {
		return fmt.Errorf("order %s no longer %s: %w", id, expected, apperr.ErrConflict)
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

func (m *MemoryRepo) ListByStatusBefore(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == status && o.CreatedAt.Before(cutoff) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
