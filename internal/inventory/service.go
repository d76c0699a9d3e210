package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"go.uber.org/zap"
)

type Service struct {
	Store Store
	Log   *zap.Logger
}

func (s *Service) HasStock(ctx context.Context, productID string, qty int) (bool, error) {
	rec, err := s.Store.Get(ctx, productID)
	if err != nil {
		return false, err
	}
	return rec.HasStock(qty)
}

func (s *Service) Get(ctx context.Context, productID string) (Record, error) {
	return s.Store.Get(ctx, productID)
}

func (s *Service) ReduceStock(ctx context.Context, productID string, qty int) (Record, error) {
	if err := validQty(productID, qty); err != nil {
		return Record{}, err
	}
	return s.Store.Reduce(ctx, productID, qty)
}

func (s *Service) AddStock(ctx context.Context, productID string, qty int) (Record, error) {
	if err := validQty(productID, qty); err != nil {
		return Record{}, err
	}
	rec, err := s.Store.Add(ctx, productID, qty)
	if err == nil {
		s.Log.Info("stock added", zap.String("product_id", productID), zap.Int("qty", qty),
			zap.Int("quantity", rec.Quantity), zap.Int64("version", rec.Version))
	}
	return rec, err
}

func (s *Service) RestoreStock(ctx context.Context, productID string, qty int) (Record, error) {
	if err := validQty(productID, qty); err != nil {
		return Record{}, err
	}
	return s.Store.Restore(ctx, productID, qty)
}

// ReduceBatch reserves stock for a whole order or nothing. A retry for an
// order already reserved succeeds without reducing again.
func (s *Service) ReduceBatch(ctx context.Context, orderID string, items []Item) error {
	if orderID == "" {
		return fmt.Errorf("empty order id: %w", apperr.ErrInvalidArgument)
	}
	if len(items) == 0 {
		return fmt.Errorf("order %s has no items: %w", orderID, apperr.ErrInvalidArgument)
	}
	for _, it := range items {
		if err := validQty(it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	if err := s.Store.ReduceAll(ctx, orderID, items); err != nil {
		s.Log.Warn("stock reservation rejected", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	s.Log.Info("stock reserved", zap.String("order_id", orderID), zap.Int("lines", len(items)))
	return nil
}

// RestoreBatch compensates row by row. A failed row is logged for manual
// reconciliation and never stops the remaining rows. Rows the order already
// released are skipped, so a repeated compensation restores nothing twice.
func (s *Service) RestoreBatch(ctx context.Context, orderID string, items []Item) (BatchResult, error) {
	var res BatchResult
	for _, it := range items {
		qty, err := s.releaseItem(ctx, orderID, it)
		if err != nil {
			s.Log.Error("stock restore failed, manual reconciliation required",
				zap.String("order_id", orderID),
				zap.String("product_id", it.ProductID),
				zap.Int("qty", it.Qty),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, ItemFailure{ProductID: it.ProductID, Qty: it.Qty, Error: err.Error()})
			continue
		}
		if qty == 0 {
			s.Log.Debug("reservation already released", zap.String("order_id", orderID), zap.String("product_id", it.ProductID))
			continue
		}
		res.Applied = append(res.Applied, Item{ProductID: it.ProductID, Qty: qty})
	}
	if len(res.Failed) > 0 {
		s.Log.Warn("partial stock restore", zap.String("order_id", orderID),
			zap.Int("applied", len(res.Applied)), zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}

func (s *Service) releaseItem(ctx context.Context, orderID string, it Item) (int, error) {
	if err := validQty(it.ProductID, it.Qty); err != nil {
		return 0, err
	}
	if orderID == "" {
		if _, err := s.Store.Restore(ctx, it.ProductID, it.Qty); err != nil {
			return 0, err
		}
		return it.Qty, nil
	}
	return s.Store.ReleaseItem(ctx, orderID, it)
}

// ReleaseOrder returns everything still reserved under orderID. It is the
// compensation for a reduction whose outcome the caller never learned, so
// it is safe to call for an order that reserved nothing or was already
// released.
func (s *Service) ReleaseOrder(ctx context.Context, orderID string) (BatchResult, error) {
	if orderID == "" {
		return BatchResult{}, fmt.Errorf("empty order id: %w", apperr.ErrInvalidArgument)
	}
	items, err := s.Store.ReleaseOrder(ctx, orderID)
	if err != nil {
		s.Log.Error("reservation release failed, manual reconciliation required",
			zap.String("order_id", orderID), zap.Error(err))
		return BatchResult{Applied: items}, err
	}
	s.Log.Info("reservation released", zap.String("order_id", orderID), zap.Int("lines", len(items)))
	return BatchResult{Applied: items}, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (Product, error) {
	return s.Store.GetProduct(ctx, productID)
}

func validQty(productID string, qty int) error {
	if productID == "" {
		return fmt.Errorf("empty product id: %w", apperr.ErrInvalidArgument)
	}
	if qty <= 0 {
		return fmt.Errorf("quantity %d for %s: %w", qty, productID, apperr.ErrInvalidArgument)
	}
	return nil
}
