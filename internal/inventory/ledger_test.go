package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"go.uber.org/zap"
)

func newService(t *testing.T, stock map[string]int) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	for pid, q := range stock {
		if _, err := st.Add(context.Background(), pid, q); err != nil {
			t.Fatalf("seed %s: %v", pid, err)
		}
	}
	return &Service{Store: st, Log: zap.NewNop()}, st
}

func TestRecordHasStockRejectsNonPositive(t *testing.T) {
	r := Record{ProductID: "p", Quantity: 3}
	for _, q := range []int{0, -1} {
		if _, err := r.HasStock(q); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("HasStock(%d) err = %v", q, err)
		}
	}
	if ok, _ := r.HasStock(3); !ok {
		t.Fatalf("3 of 3 should be available")
	}
	if ok, _ := r.HasStock(4); ok {
		t.Fatalf("4 of 3 should not be available")
	}
}

func TestReduceInsufficientLeavesQuantity(t *testing.T) {
	svc, _ := newService(t, map[string]int{"p": 2})
	ctx := context.Background()
	before, _ := svc.Get(ctx, "p")

	_, err := svc.ReduceStock(ctx, "p", 3)
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}
	after, _ := svc.Get(ctx, "p")
	if after.Quantity != 2 || after.Version != before.Version {
		t.Fatalf("row changed: before=%+v after=%+v", before, after)
	}
}

func TestReduceRestoreRoundTrip(t *testing.T) {
	svc, _ := newService(t, map[string]int{"p": 10})
	ctx := context.Background()
	before, _ := svc.Get(ctx, "p")

	if _, err := svc.ReduceStock(ctx, "p", 5); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	after, err := svc.RestoreStock(ctx, "p", 5)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if after.Quantity != before.Quantity {
		t.Fatalf("quantity = %d, want %d", after.Quantity, before.Quantity)
	}
	if after.Version != before.Version+2 {
		t.Fatalf("version = %d, want %d", after.Version, before.Version+2)
	}
}

func TestConcurrentReduceNeverDoubleReserves(t *testing.T) {
	for run := 0; run < 50; run++ {
		svc, _ := newService(t, map[string]int{"p": 4})
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.ReduceStock(ctx, "p", 4)
			}(i)
		}
		close(start)
		wg.Wait()

		ok, short := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInsufficientStock):
				short++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 || short != 1 {
			t.Fatalf("run %d: ok=%d short=%d", run, ok, short)
		}
		if rec, _ := svc.Get(ctx, "p"); rec.Quantity != 0 {
			t.Fatalf("quantity = %d, want 0", rec.Quantity)
		}
	}
}

func TestReduceBatchIsAllOrNothing(t *testing.T) {
	svc, _ := newService(t, map[string]int{"a": 5, "b": 1})
	ctx := context.Background()

	err := svc.ReduceBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 2}, {ProductID: "b", Qty: 2}})
	var ise *InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if len(ise.Shortages) != 1 || ise.Shortages[0].ProductID != "b" || ise.Shortages[0].Available != 1 {
		t.Fatalf("shortages = %+v", ise.Shortages)
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 5 {
		t.Fatalf("a was partially reduced: %d", a.Quantity)
	}

	if err := svc.ReduceBatch(ctx, "o-2", []Item{{ProductID: "a", Qty: 2}, {ProductID: "a", Qty: 1}, {ProductID: "b", Qty: 1}}); err != nil {
		t.Fatalf("reduce batch: %v", err)
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 2 {
		t.Fatalf("a = %d, want 2", a.Quantity)
	}
}

func TestReduceBatchUnknownProductIsShortage(t *testing.T) {
	svc, _ := newService(t, map[string]int{"a": 5})
	err := svc.ReduceBatch(context.Background(), "o-1", []Item{{ProductID: "ghost", Qty: 1}})
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("err = %v", err)
	}
}

func TestRestoreBatchContinuesPastFailures(t *testing.T) {
	svc, _ := newService(t, map[string]int{"a": 1, "c": 1})
	res, err := svc.RestoreBatch(context.Background(), "o-1", []Item{
		{ProductID: "a", Qty: 2},
		{ProductID: "missing", Qty: 1},
		{ProductID: "c", Qty: 3},
	})
	if err != nil {
		t.Fatalf("restore batch: %v", err)
	}
	if res.OK() || len(res.Failed) != 1 || res.Failed[0].ProductID != "missing" {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("applied = %+v", res.Applied)
	}
	if c, _ := svc.Get(context.Background(), "c"); c.Quantity != 4 {
		t.Fatalf("c = %d, want 4", c.Quantity)
	}
}

func TestAddStockCreatesRow(t *testing.T) {
	svc, _ := newService(t, nil)
	rec, err := svc.AddStock(context.Background(), "new", 7)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Quantity != 7 || rec.Version != 1 {
		t.Fatalf("rec = %+v", rec)
	}
	if _, err := svc.AddStock(context.Background(), "new", 0); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("zero add err = %v", err)
	}
}

func TestReduceBatchIsIdempotentPerOrder(t *testing.T) {
	svc, st := newService(t, map[string]int{"a": 10})
	ctx := context.Background()
	items := []Item{{ProductID: "a", Qty: 3}}

	for i := 0; i < 2; i++ {
		if err := svc.ReduceBatch(ctx, "o-1", items); err != nil {
			t.Fatalf("reduce %d: %v", i+1, err)
		}
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 7 {
		t.Fatalf("a = %d, want 7", a.Quantity)
	}
	if qty, status, ok := st.Reservation("o-1", "a"); !ok || qty != 3 || status != ReservationReserved {
		t.Fatalf("reservation = %d %q %v", qty, status, ok)
	}
}

func TestReleaseOrderRestoresOnce(t *testing.T) {
	svc, st := newService(t, map[string]int{"a": 10, "b": 4})
	ctx := context.Background()
	if err := svc.ReduceBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 2}, {ProductID: "b", Qty: 1}, {ProductID: "a", Qty: 1}}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.ReleaseOrder(ctx, "o-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(res.Applied) != 2 || res.Applied[0] != (Item{ProductID: "a", Qty: 3}) {
		t.Fatalf("applied = %+v", res.Applied)
	}
	again, err := svc.ReleaseOrder(ctx, "o-1")
	if err != nil || len(again.Applied) != 0 {
		t.Fatalf("second release = %+v err=%v", again, err)
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 10 {
		t.Fatalf("a = %d, want 10", a.Quantity)
	}
	if b, _ := svc.Get(ctx, "b"); b.Quantity != 4 {
		t.Fatalf("b = %d, want 4", b.Quantity)
	}
	if _, status, _ := st.Reservation("o-1", "b"); status != ReservationReleased {
		t.Fatalf("b reservation = %q", status)
	}

	if err := svc.ReduceBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 3}}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("reduce after release err = %v", err)
	}
}

func TestReleaseBeforeReduceRefusesLateReduce(t *testing.T) {
	svc, _ := newService(t, map[string]int{"a": 10})
	ctx := context.Background()

	res, err := svc.ReleaseOrder(ctx, "o-late")
	if err != nil || len(res.Applied) != 0 {
		t.Fatalf("release = %+v err=%v", res, err)
	}
	if err := svc.ReduceBatch(ctx, "o-late", []Item{{ProductID: "a", Qty: 3}}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("late reduce err = %v", err)
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 10 {
		t.Fatalf("a = %d, want 10", a.Quantity)
	}
}

func TestRestoreBatchSkipsReleasedRows(t *testing.T) {
	svc, _ := newService(t, map[string]int{"a": 10})
	ctx := context.Background()
	if err := svc.ReduceBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 4}}); err != nil {
		t.Fatal(err)
	}

	first, _ := svc.RestoreBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 4}})
	second, _ := svc.RestoreBatch(ctx, "o-1", []Item{{ProductID: "a", Qty: 4}})
	if len(first.Applied) != 1 || len(second.Applied) != 0 || !second.OK() {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if a, _ := svc.Get(ctx, "a"); a.Quantity != 10 {
		t.Fatalf("a = %d, want 10", a.Quantity)
	}
	if rel, _ := svc.ReleaseOrder(ctx, "o-1"); len(rel.Applied) != 0 {
		t.Fatalf("release after restore applied %+v", rel.Applied)
	}
}
