package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrSweepRunning = errors.New("reconciler: sweep already running")

type Source interface {
	ListByStatusBefore(ctx context.Context, status orders.Status, cutoff time.Time, limit int) ([]*orders.Order, error)
}

type Expirer interface {
	ExpireOrder(ctx context.Context, id string) (orders.ExpireResult, error)
}

// Locker is a cross-process mutex. Only one replica sweeps per tick.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type Result struct {
	Scanned         int `json:"scanned"`
	Expired         int `json:"expired"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
	RestoreFailures int `json:"restore_failures"`
}

type Reconciler struct {
	Orders      Source
	Expirer     Expirer
	Lock        Locker // optional
	Log         *zap.Logger
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	BatchSize   int

	running atomic.Bool
}

// Sweep expires every PENDING_PAYMENT order created before now-Timeout, up
// to BatchSize per call. Orders are processed independently: one failure
// never stops the others.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepRunning
	}
	defer r.running.Store(false)

	ctx, span := otel.Tracer("reconciler").Start(ctx, "expiration sweep")
	defer span.End()

	cutoff := now.Add(-r.Timeout)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 500
	}
	list, err := r.Orders.ListByStatusBefore(ctx, orders.StatusPendingPayment, cutoff, limit)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	var expired, skipped, failed, restoreFailures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	conc := r.Concurrency
	if conc <= 0 {
		conc = 1
	}
	g.SetLimit(conc)
	for _, o := range list {
		id := o.ID
		g.Go(func() error {
			res, err := r.Expirer.ExpireOrder(gctx, id)
			switch {
			case err != nil:
				failed.Add(1)
				r.Log.Error("expire order failed", zap.String("order_id", id), zap.Error(err))
			case res.Expired:
				expired.Add(1)
				restoreFailures.Add(int64(res.RestoreFailures))
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Scanned:         len(list),
		Expired:         int(expired.Load()),
		Skipped:         int(skipped.Load()),
		Failed:          int(failed.Load()),
		RestoreFailures: int(restoreFailures.Load()),
	}
	span.SetAttributes(
		attribute.Int("sweep.scanned", res.Scanned),
		attribute.Int("sweep.expired", res.Expired),
		attribute.Int("sweep.failed", res.Failed),
	)
	r.Log.Info("expiration sweep done",
		zap.Time("cutoff", cutoff),
		zap.Int("scanned", res.Scanned),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("restore_failures", res.RestoreFailures),
	)
	return res, nil
}

// DefaultInterval is used when Interval is not positive.
const DefaultInterval = 30 * time.Minute

// Run sweeps every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	r.Log.Info("reconciler started", zap.Duration("interval", interval), zap.Duration("timeout", r.Timeout))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context, now time.Time) {
	if r.Lock != nil {
		ok, err := r.Lock.TryLock(ctx)
		if err != nil {
			r.Log.Warn("sweep lock unavailable, skipping", zap.Error(err))
			return
		}
		if !ok {
			r.Log.Debug("sweep held by another replica")
			return
		}
		defer func() {
			if err := r.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				r.Log.Warn("release sweep lock", zap.Error(err))
			}
		}()
	}
	if _, err := r.Sweep(ctx, now.UTC()); err != nil {
		if errors.Is(err, ErrSweepRunning) {
			r.Log.Debug("previous sweep still running")
			return
		}
		r.Log.Error("expiration sweep failed", zap.Error(err))
	}
}
