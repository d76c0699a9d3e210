package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stack struct {
	orders    *httptest.Server
	inventory *httptest.Server
	payments  *httptest.Server
	stock     *inventory.Service
	rec       *events.Recorder
}

// newStack wires the three services the way the binaries do, with the
// order service reaching inventory over HTTP and events delivered in process.
func newStack(t *testing.T) *stack {
	t.Helper()
	log := zap.NewNop()

	store := inventory.NewMemoryStore()
	store.PutProduct(inventory.Product{ID: "P", Name: "Widget", Price: decimal.RequireFromString("10.00"), Active: true})
	stock := &inventory.Service{Store: store, Log: log}
	if _, err := stock.AddStock(context.Background(), "P", 10); err != nil {
		t.Fatal(err)
	}
	invMux := NewRouter(log, 16)
	(&InventoryHandler{Svc: stock, Log: log}).Register(invMux)
	invSrv := httptest.NewServer(invMux)
	t.Cleanup(invSrv.Close)

	bus := events.NewRouter(log)
	rec := &events.Recorder{Router: bus}

	client := inventory.NewClient(invSrv.URL, 2*time.Second)
	osvc := &orders.Service{
		Repo:     orders.NewMemoryRepo(),
		Stock:    client,
		Catalog:  client,
		Events:   rec,
		Log:      log,
		Producer: "order-service",
	}
	psvc := &payment.Service{
		Repo:     payment.NewMemoryRepo(),
		Gateway:  payment.SimulatedGateway{},
		Events:   rec,
		Log:      log,
		Producer: "payment-service",
	}
	osvc.RegisterHandlers(bus)
	psvc.RegisterHandlers(bus)

	ordMux := NewRouter(log, 16)
	(&OrdersHandler{Svc: osvc, Log: log}).Register(ordMux)
	ordSrv := httptest.NewServer(ordMux)
	t.Cleanup(ordSrv.Close)

	payMux := NewRouter(log, 16)
	(&PaymentHandler{Svc: psvc, Log: log}).Register(payMux)
	paySrv := httptest.NewServer(payMux)
	t.Cleanup(paySrv.Close)

	return &stack{orders: ordSrv, inventory: invSrv, payments: paySrv, stock: stock, rec: rec}
}

func post(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestOrderPaymentFlowOverHTTP(t *testing.T) {
	s := newStack(t)

	var o orders.Order
	code := post(t, s.orders.URL+"/orders", `{"user_id":"u1","items":[{"product_id":"P","qty":3}]}`, &o)
	if code != http.StatusCreated || o.Status != orders.StatusPendingPayment {
		t.Fatalf("create: %d %+v", code, o)
	}

	var rec inventory.Record
	if get(t, s.inventory.URL+"/inventory/P", &rec); rec.Quantity != 7 {
		t.Fatalf("stock = %d", rec.Quantity)
	}

	var p payment.Payment
	if code := post(t, s.payments.URL+"/payments/"+o.ID+"/pay", "", &p); code != http.StatusOK || p.Status != payment.StatusCompleted {
		t.Fatalf("pay: %d %+v", code, p)
	}

	var got orders.Order
	if get(t, s.orders.URL+"/orders/"+o.ID, &got); got.Status != orders.StatusPaid {
		t.Fatalf("status = %s", got.Status)
	}
	for _, step := range []string{"ship", "deliver", "complete"} {
		if code := post(t, s.orders.URL+"/orders/"+o.ID+"/"+step, "", &got); code != http.StatusOK {
			t.Fatalf("%s: %d", step, code)
		}
	}
	if got.Status != orders.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCreateOrderErrorsOverHTTP(t *testing.T) {
	s := newStack(t)
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"no items", `{"user_id":"u1","items":[]}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"zero qty", `{"user_id":"u1","items":[{"product_id":"P","qty":0}]}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown product", `{"user_id":"u1","items":[{"product_id":"X","qty":1}]}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"too many", `{"user_id":"u1","items":[{"product_id":"P","qty":11}]}`, http.StatusConflict, "INSUFFICIENT_STOCK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body apperr.Body
			if code := post(t, s.orders.URL+"/orders", tc.body, &body); code != tc.status || body.Code != tc.code {
				t.Fatalf("got %d %+v", code, body)
			}
		})
	}
	var rec inventory.Record
	if get(t, s.inventory.URL+"/inventory/P", &rec); rec.Quantity != 10 {
		t.Fatalf("stock = %d", rec.Quantity)
	}
}

func TestInsufficientStockDetails(t *testing.T) {
	s := newStack(t)
	var body apperr.Body
	code := post(t, s.inventory.URL+"/inventory/reduce", `{"order_id":"o1","items":[{"product_id":"P","qty":12}]}`, &body)
	if code != http.StatusConflict {
		t.Fatalf("status = %d", code)
	}
	var short []inventory.Shortage
	if err := json.Unmarshal(body.Details, &short); err != nil || len(short) != 1 || short[0].Available != 10 {
		t.Fatalf("details = %s", body.Details)
	}
}

func TestTransitionErrorsOverHTTP(t *testing.T) {
	s := newStack(t)
	var o orders.Order
	post(t, s.orders.URL+"/orders", `{"user_id":"u1","items":[{"product_id":"P","qty":1}]}`, &o)

	var body apperr.Body
	if code := post(t, s.orders.URL+"/orders/"+o.ID+"/ship", "", &body); code != http.StatusConflict || body.Code != "INVALID_TRANSITION" {
		t.Fatalf("ship unpaid: %d %+v", code, body)
	}
	if code := get(t, s.orders.URL+"/orders/missing", &body); code != http.StatusNotFound {
		t.Fatalf("missing: %d", code)
	}

	var cancelled orders.Order
	if code := post(t, s.orders.URL+"/orders/"+o.ID+"/cancel", `{"reason":"too slow"}`, &cancelled); code != http.StatusOK || cancelled.Status != orders.StatusCancelled {
		t.Fatalf("cancel: %d %+v", code, cancelled)
	}
	var st map[string]string
	if get(t, s.orders.URL+"/orders/"+o.ID+"/status", &st); st["status"] != string(orders.StatusCancelled) {
		t.Fatalf("status = %v", st)
	}
	ev := s.rec.OfType(events.TypeOrderCancelled)
	if len(ev) != 1 || !strings.Contains(string(ev[0].Payload), "too slow") {
		t.Fatalf("OrderCancelled events = %d", len(ev))
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(zap.NewNop(), 0))
	defer srv.Close()
	if code := get(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
}

func TestReserveTimeoutReleasesStock(t *testing.T) {
	log := zap.NewNop()
	store := inventory.NewMemoryStore()
	store.PutProduct(inventory.Product{ID: "P", Name: "Widget", Price: decimal.RequireFromString("10.00"), Active: true})
	stock := &inventory.Service{Store: store, Log: log}
	if _, err := stock.AddStock(context.Background(), "P", 10); err != nil {
		t.Fatal(err)
	}
	invMux := NewRouter(log, 16)
	(&InventoryHandler{Svc: stock, Log: log}).Register(invMux)
	// the reduction commits, the answer arrives after the client gave up
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invMux.ServeHTTP(w, r)
		if r.URL.Path == "/inventory/reduce" {
			time.Sleep(300 * time.Millisecond)
		}
	})
	invSrv := httptest.NewServer(slow)
	t.Cleanup(invSrv.Close)

	repo := orders.NewMemoryRepo()
	client := inventory.NewClient(invSrv.URL, 100*time.Millisecond)
	osvc := &orders.Service{
		Repo:     repo,
		Stock:    client,
		Catalog:  client,
		Events:   &events.Recorder{},
		Log:      log,
		Producer: "order-service",
	}

	_, err := osvc.CreateOrder(context.Background(), "u1", []orders.LineInput{{ProductID: "P", Qty: 3}})
	if !errors.Is(err, apperr.ErrDependencyUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if rec, _ := stock.Get(context.Background(), "P"); rec.Quantity != 10 {
		t.Fatalf("stock = %d, want 10", rec.Quantity)
	}
	left, _ := repo.ListByStatusBefore(context.Background(), orders.StatusPendingPayment, time.Now().Add(time.Hour), 10)
	if len(left) != 0 {
		t.Fatalf("orders stored: %d", len(left))
	}
}

func TestReleaseEndpoint(t *testing.T) {
	s := newStack(t)
	if err := s.stock.ReduceBatch(context.Background(), "o-9", []inventory.Item{{ProductID: "P", Qty: 2}}); err != nil {
		t.Fatal(err)
	}
	var res inventory.BatchResult
	if code := post(t, s.inventory.URL+"/inventory/release", `{"order_id":"o-9"}`, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(res.Applied) != 1 || res.Applied[0].Qty != 2 {
		t.Fatalf("applied = %+v", res.Applied)
	}
	if code := post(t, s.inventory.URL+"/inventory/release", `{}`, nil); code != http.StatusBadRequest {
		t.Fatalf("missing order id status = %d", code)
	}
}
