package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"
)

// Client calls the inventory service over HTTP. Every call runs under
// Timeout; transport failures and 5xx answers become
// apperr.ErrDependencyUnavailable.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration

	products singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
		Timeout: timeout,
	}
}

type batchRequest struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

type releaseRequest struct {
	OrderID string `json:"order_id"`
}

// GetProduct collapses concurrent lookups of the same product into one call.
// The shared call is detached from the caller that started it and bounded by
// Timeout alone, so one caller giving up does not fail the others.
func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.products.DoChan(productID, func() (any, error) {
		var p Product
		err := c.do(shared, http.MethodGet, "/products/"+url.PathEscape(productID), nil, &p)
		return p, err
	})
	select {
	case <-ctx.Done():
		return Product{}, fmt.Errorf("inventory product %s: %w: %w", productID, ctx.Err(), apperr.ErrDependencyUnavailable)
	case res := <-ch:
		if res.Err != nil {
			return Product{}, res.Err
		}
		return res.Val.(Product), nil
	}
}

func (c *Client) ReduceBatch(ctx context.Context, orderID string, items []Item) error {
	return c.do(ctx, http.MethodPost, "/inventory/reduce", batchRequest{OrderID: orderID, Items: items}, nil)
}

func (c *Client) RestoreBatch(ctx context.Context, orderID string, items []Item) (BatchResult, error) {
	var res BatchResult
	err := c.do(ctx, http.MethodPost, "/inventory/restore", batchRequest{OrderID: orderID, Items: items}, &res)
	return res, err
}

// ReleaseOrder asks inventory to hand back whatever orderID still holds.
func (c *Client) ReleaseOrder(ctx context.Context, orderID string) (BatchResult, error) {
	var res BatchResult
	err := c.do(ctx, http.MethodPost, "/inventory/release", releaseRequest{OrderID: orderID}, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("inventory %s %s: %v: %w", method, path, err, apperr.ErrDependencyUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inventory %s %s: decode: %v: %w", method, path, err, apperr.ErrDependencyUnavailable)
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	var eb apperr.Body
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	sentinel := apperr.FromCode(eb.Code)
	if errors.Is(sentinel, apperr.ErrInsufficientStock) {
		var short []Shortage
		if len(eb.Details) > 0 && json.Unmarshal(eb.Details, &short) == nil {
			return &InsufficientStockError{Shortages: short}
		}
	}
	if sentinel == nil {
		if resp.StatusCode >= 500 {
			sentinel = apperr.ErrDependencyUnavailable
		} else {
			sentinel = fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("inventory %s %s: %s: %w", method, path, eb.Error, sentinel)
}
