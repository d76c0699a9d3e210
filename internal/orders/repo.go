package orders

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

const uniqueViolation = "23505"

type Repo struct{ DB *pgxpool.Pool }

var _ Repository = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_code, user_id, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		o.ID, o.OrderCode, o.UserID, string(o.Status), o.TotalAmount.String(), o.CreatedAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_order_code_key" {
		return fmt.Errorf("order %s code %s: %w", o.ID, o.OrderCode, ErrDuplicateCode)
	}
	if err != nil {
		return err
	}

	for i, it := range o.Items {
		var discount *string
		if it.DiscountPrice != nil {
			s := it.DiscountPrice.String()
			discount = &s
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, product_name, price, discount_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric)`,
			o.ID, i+1, it.ProductID, it.ProductName, it.Price.String(), discount, it.Quantity, it.Subtotal.String())
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const orderColumns = `id, order_code, user_id, status, total_amount::text, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.OrderCode, &o.UserID, &status, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	t, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.TotalAmount = t
	return &o, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, expected, next Status, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2`, id, string(expected), string(next), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return fmt.Errorf("order %s no longer %s: %w", id, expected, apperr.ErrConflict)
}

func (r *Repo) ListByStatusBefore(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, string(status), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.loadItems(ctx, out)
}

func (r *Repo) loadItems(ctx context.Context, list []*Order) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, product_name, price::text, discount_price::text, quantity, subtotal::text
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID         string
			it              OrderItem
			price, subtotal string
			discount        *string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &price, &discount, &it.Quantity, &subtotal); err != nil {
			return err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return err
		}
		if it.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return err
		}
		if discount != nil {
			d, err := decimal.NewFromString(*discount)
			if err != nil {
				return err
			}
			it.DiscountPrice = &d
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}
