package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockClient is the inventory service as seen from the order service.
type StockClient interface {
	ReduceBatch(ctx context.Context, orderID string, items []inventory.Item) error
	RestoreBatch(ctx context.Context, orderID string, items []inventory.Item) (inventory.BatchResult, error)
	ReleaseOrder(ctx context.Context, orderID string) (inventory.BatchResult, error)
}

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (inventory.Product, error)
}

// LineInput is one requested line of a new order.
type LineInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

const (
	casRetries   = 3
	codeAttempts = 3
)

type Service struct {
	Repo     Repository
	Stock    StockClient
	Catalog  Catalog
	Events   events.Publisher
	Cache    StatusCache // optional
	Log      *zap.Logger
	Producer string
	Now      func() time.Time
	NewCode  func(time.Time) string // optional, NewOrderCode over a fresh uuid
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateOrder snapshots the catalog, reserves stock for every line in one
// batch and persists the order as PENDING_PAYMENT.
func (s *Service) CreateOrder(ctx context.Context, userID string, lines []LineInput) (*Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("order without items: %w", apperr.ErrInvalidArgument)
	}

	items := make([]OrderItem, 0, len(lines))
	reserve := make([]inventory.Item, 0, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			return nil, fmt.Errorf("quantity %d for %s: %w", l.Qty, l.ProductID, apperr.ErrInvalidArgument)
		}
		p, err := s.Catalog.GetProduct(ctx, l.ProductID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return nil, fmt.Errorf("unknown product %s: %w", l.ProductID, apperr.ErrInvalidArgument)
		case err != nil:
			s.Log.Warn("product lookup degraded", zap.String("product_id", l.ProductID), zap.Error(err))
			return nil, fmt.Errorf("product %s unavailable: %w", l.ProductID, apperr.ErrDependencyUnavailable)
		}
		if !p.Active {
			return nil, fmt.Errorf("product %s is not for sale: %w", l.ProductID, apperr.ErrInvalidArgument)
		}
		it, err := NewOrderItem(p.ID, p.Name, p.Price, p.DiscountPrice, l.Qty)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
		reserve = append(reserve, inventory.Item{ProductID: l.ProductID, Qty: l.Qty})
	}

	o, err := NewOrder(userID, items, s.now())
	if err != nil {
		return nil, err
	}
	if s.NewCode != nil {
		o.OrderCode = s.NewCode(o.CreatedAt)
	}

	if err := s.Stock.ReduceBatch(ctx, o.ID, reserve); err != nil {
		// Unavailable means the reduction may still have committed.
		if errors.Is(err, apperr.ErrDependencyUnavailable) {
			s.release(ctx, o.ID)
		}
		return nil, err
	}

	if err := s.persist(ctx, o); err != nil {
		s.Log.Error("persist order failed, releasing stock", zap.String("order_id", o.ID), zap.Error(err))
		s.release(ctx, o.ID)
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, o.ID, o.Status)
	}

	s.Log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_code", o.OrderCode),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)

	payload := events.OrderCreatedPayload{
		OrderID:     o.ID,
		OrderCode:   o.OrderCode,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
	}
	for _, it := range o.Items {
		payload.Items = append(payload.Items, events.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	s.publish(ctx, events.TypeOrderCreated, o.ID, payload)
	return o, nil
}

// persist stores a new order, drawing a fresh code while the current one is
// taken.
func (s *Service) persist(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		err := s.Repo.Create(ctx, o)
		if !errors.Is(err, ErrDuplicateCode) || attempt == codeAttempts {
			return err
		}
		s.Log.Warn("order code collision, drawing another",
			zap.String("order_id", o.ID), zap.String("order_code", o.OrderCode))
		o.OrderCode = s.nextCode(o.CreatedAt)
	}
}

func (s *Service) nextCode(at time.Time) string {
	if s.NewCode != nil {
		return s.NewCode(at)
	}
	return NewOrderCode(uuid.New(), at)
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.Repo.Get(ctx, id)
}

// Status is the cheap read used by clients polling for payment. A miss only
// fills the cache, it never replaces a status a writer put there.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	if s.Cache != nil {
		if st, ok := s.Cache.Get(ctx, id); ok {
			return st, nil
		}
	}
	o, err := s.Repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if s.Cache != nil {
		s.Cache.Fill(ctx, id, o.Status)
	}
	return o.Status, nil
}

// apply loads the order, runs step against it and persists the result with a
// compare-and-set on the status it read. A lost race reloads and retries so
// the state machine sees the winner's status.
func (s *Service) apply(ctx context.Context, id string, step func(*Order) (bool, error)) (*Order, bool, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.Repo.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		prev := o.Status
		changed, err := step(o)
		if err != nil || !changed {
			return o, false, err
		}
		err = s.Repo.UpdateStatus(ctx, id, prev, o.Status, o.UpdatedAt)
		if errors.Is(err, apperr.ErrConflict) && attempt < casRetries {
			s.Log.Debug("status changed underneath, retrying", zap.String("order_id", id), zap.String("expected", string(prev)))
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if s.Cache != nil {
			s.Cache.Set(ctx, id, o.Status)
		}
		s.Log.Info("order transitioned",
			zap.String("order_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(o.Status)),
		)
		return o, true, nil
	}
}

// OnPaymentCompleted marks the order paid. Redelivery and payments racing a
// cancellation are no-ops.
func (s *Service) OnPaymentCompleted(ctx context.Context, orderID string) error {
	o, changed, err := s.apply(ctx, orderID, func(o *Order) (bool, error) { return o.MarkAsPaid(s.now()) })
	if err != nil {
		return err
	}
	if !changed {
		if o.Status == StatusCancelled {
			s.Log.Warn("payment completed for cancelled order, refund required",
				zap.String("order_id", orderID), zap.String("total", o.TotalAmount.StringFixed(2)))
		}
		return nil
	}
	s.publish(ctx, events.TypeOrderPaid, o.ID, events.OrderPaidPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
	})
	return nil
}

// OnPaymentFailed leaves the order waiting: the payment may be retried and
// the reconciler expires it otherwise.
func (s *Service) OnPaymentFailed(ctx context.Context, orderID, reason string) error {
	s.Log.Info("payment failed", zap.String("order_id", orderID), zap.String("reason", reason))
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	o, changed, err := s.apply(ctx, id, func(o *Order) (bool, error) { return o.Cancel(s.now()) })
	if err != nil || !changed {
		return o, err
	}
	s.restore(ctx, o)
	s.publishClosed(ctx, events.TypeOrderCancelled, o, reason)
	return o, nil
}

// ExpireResult describes what ExpireOrder did to a single order.
type ExpireResult struct {
	Expired         bool
	RestoreFailures int
}

// ExpireOrder cancels an order still waiting for payment. The order is
// claimed first; stock goes back only after the claim wins, so a late
// payment can never pay an order whose stock was already released.
func (s *Service) ExpireOrder(ctx context.Context, id string) (ExpireResult, error) {
	o, changed, err := s.apply(ctx, id, func(o *Order) (bool, error) {
		if o.Status != StatusPendingPayment {
			return false, nil
		}
		return o.Cancel(s.now())
	})
	if err != nil || !changed {
		return ExpireResult{}, err
	}
	res := ExpireResult{Expired: true, RestoreFailures: s.restore(ctx, o)}
	s.publishClosed(ctx, events.TypeOrderExpired, o, "payment timeout")
	return res, nil
}

func (s *Service) Ship(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.apply(ctx, id, func(o *Order) (bool, error) { return o.Ship(s.now()) })
	return o, err
}

func (s *Service) Deliver(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.apply(ctx, id, func(o *Order) (bool, error) { return o.Deliver(s.now()) })
	return o, err
}

func (s *Service) Complete(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.apply(ctx, id, func(o *Order) (bool, error) { return o.Complete(s.now()) })
	return o, err
}

// release hands back whatever an order that will never be stored reserved.
// It runs detached from ctx, which may already be done.
func (s *Service) release(ctx context.Context, orderID string) {
	res, err := s.Stock.ReleaseOrder(context.WithoutCancel(ctx), orderID)
	if err != nil {
		s.Log.Error("stock release failed, manual reconciliation required",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	s.Log.Info("stock released", zap.String("order_id", orderID), zap.Int("lines", len(res.Applied)))
}

// restore gives back the stock of every line and returns how many lines
// could not be restored.
func (s *Service) restore(ctx context.Context, o *Order) int {
	items := make([]inventory.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, inventory.Item{ProductID: it.ProductID, Qty: it.Quantity})
	}
	res, err := s.Stock.RestoreBatch(ctx, o.ID, items)
	if err != nil {
		for _, it := range items {
			s.Log.Error("stock restore failed, manual reconciliation required",
				zap.String("order_id", o.ID),
				zap.String("product_id", it.ProductID),
				zap.Int("qty", it.Qty),
				zap.Error(err),
			)
		}
		return len(items)
	}
	for _, f := range res.Failed {
		s.Log.Error("stock restore failed, manual reconciliation required",
			zap.String("order_id", o.ID),
			zap.String("product_id", f.ProductID),
			zap.Int("qty", f.Qty),
			zap.String("error", f.Error),
		)
	}
	return len(res.Failed)
}

func (s *Service) publishClosed(ctx context.Context, eventType string, o *Order, reason string) {
	s.publish(ctx, eventType, o.ID, events.OrderClosedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		Reason:      reason,
	})
}

// publish never fails the caller: the transition is already committed.
func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := events.New(eventType, s.Producer, orderID, payload)
	if err == nil {
		err = s.Events.Publish(ctx, env)
	}
	if err != nil {
		s.Log.Error("publish failed", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}
