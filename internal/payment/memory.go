package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type MemoryRepo struct {
	mu      sync.Mutex
	byOrder map[string]Payment
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byOrder: map[string]Payment{}}
}

func (m *MemoryRepo) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[p.OrderID]; ok {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, apperr.ErrConflict)
	}
	m.byOrder[p.OrderID] = *p
	return nil
}

func (m *MemoryRepo) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, apperr.ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryRepo) Update(ctx context.Context, p *Payment, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byOrder[p.OrderID]
	if !ok {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, apperr.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("payment %s no longer %s: %w", p.ID, expected, apperr.ErrConflict)
	}
	m.byOrder[p.OrderID] = *p
	return nil
}
