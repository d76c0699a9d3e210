package inventory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

// optimisticRetries bounds the version-check loop on Add/Restore.
const optimisticRetries = 5

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// querier is the pool or an open tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) Get(ctx context.Context, productID string) (Record, error) {
	return getRecord(ctx, r.DB, productID)
}

func getRecord(ctx context.Context, q querier, productID string) (Record, error) {
	var rec Record
	err := q.QueryRow(ctx, `
		SELECT id, product_id, quantity, version, updated_at
		FROM inventory WHERE product_id=$1`, productID).
		Scan(&rec.ID, &rec.ProductID, &rec.Quantity, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("inventory %s: %w", productID, apperr.ErrNotFound)
	}
	return rec, err
}

// Reduce: lock baris (FOR UPDATE) -> cek -> kurangi, satu transaksi.
func (r *Repo) Reduce(ctx context.Context, productID string, qty int) (Record, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := lockRow(ctx, tx, productID)
	if err != nil {
		return Record{}, err
	}
	if err := rec.ReduceStock(qty); err != nil {
		return Record{}, err
	}
	if err := writeLocked(ctx, tx, &rec); err != nil {
		return Record{}, err
	}
	return rec, tx.Commit(ctx)
}

// ReduceAll locks rows in product id order so two batches touching the same
// products can't deadlock. Any short row rolls the whole batch back. The
// reservation rows commit in the same tx as the reduction.
func (r *Repo) ReduceAll(ctx context.Context, orderID string, items []Item) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reserved, seen, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if reserved {
		return nil
	}
	if seen {
		return errOrderReleased(orderID)
	}

	merged := merge(items)
	var short []Shortage
	for _, it := range merged {
		rec, err := lockRow(ctx, tx, it.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			short = append(short, Shortage{ProductID: it.ProductID, Required: it.Qty})
			continue
		}
		if err != nil {
			return err
		}
		if err := rec.ReduceStock(it.Qty); err != nil {
			var ise *InsufficientStockError
			if errors.As(err, &ise) {
				short = append(short, ise.Shortages...)
				continue
			}
			return err
		}
		if err := writeLocked(ctx, tx, &rec); err != nil {
			return err
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Shortages: short}
	}
	for _, it := range merged {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status)
			VALUES ($1, $2, $3, 'RESERVED')
			ON CONFLICT (order_id, product_id) DO NOTHING`, orderID, it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ReleaseItem marks one reservation row RELEASED and adds its quantity back.
func (r *Repo) ReleaseItem(ctx context.Context, orderID string, it Item) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, _, err := lockOrder(ctx, tx, orderID); err != nil {
		return 0, err
	}
	var (
		qty    int
		status string
	)
	err = tx.QueryRow(ctx, `
		SELECT qty, status FROM reservations
		WHERE order_id=$1 AND product_id=$2`, orderID, it.ProductID).Scan(&qty, &status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		qty = it.Qty
	case err != nil:
		return 0, err
	case status == ReservationReleased:
		return 0, nil
	default:
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status='RELEASED', updated_at=now()
			WHERE order_id=$1 AND product_id=$2`, orderID, it.ProductID); err != nil {
			return 0, err
		}
	}
	if _, err := increment(ctx, tx, it.ProductID, qty); err != nil {
		return 0, err
	}
	return qty, tx.Commit(ctx)
}

// ReleaseOrder adds back every RESERVED row of the order in one tx. An order
// with nothing recorded gets the released marker, so a reduction still in
// flight for it is refused when it lands.
func (r *Repo) ReleaseOrder(ctx context.Context, orderID string) ([]Item, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, seen, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !seen {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status)
			VALUES ($1, $2, 0, 'RELEASED')
			ON CONFLICT (order_id, product_id) DO NOTHING`, orderID, releasedMarker); err != nil {
			return nil, err
		}
		return nil, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED'
		ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ProductID, &it.Qty)
		return it, err
	})
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if _, err := increment(ctx, tx, it.ProductID, it.Qty); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED', updated_at=now()
		WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return nil, err
	}
	return items, tx.Commit(ctx)
}

// lockOrder serialises ledger writes for one order for the rest of the tx
// and reports what is already recorded for it.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) (reserved, seen bool, err error) {
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID); err != nil {
		return false, false, err
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(bool_or(status='RESERVED'), false), count(*) > 0
		FROM reservations WHERE order_id=$1`, orderID).Scan(&reserved, &seen)
	return reserved, seen, err
}

func lockRow(ctx context.Context, tx pgx.Tx, productID string) (Record, error) {
	var rec Record
	err := tx.QueryRow(ctx, `
		SELECT id, product_id, quantity, version, updated_at
		FROM inventory WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&rec.ID, &rec.ProductID, &rec.Quantity, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("inventory %s: %w", productID, apperr.ErrNotFound)
	}
	return rec, err
}

func writeLocked(ctx context.Context, tx pgx.Tx, rec *Record) error {
	return tx.QueryRow(ctx, `
		UPDATE inventory SET quantity=$2, version=$3, updated_at=now()
		WHERE id=$1 RETURNING updated_at`, rec.ID, rec.Quantity, rec.Version).Scan(&rec.UpdatedAt)
}

// Add creates the row on first stock receipt.
func (r *Repo) Add(ctx context.Context, productID string, qty int) (Record, error) {
	if qty <= 0 {
		return Record{}, fmt.Errorf("quantity %d: %w", qty, apperr.ErrInvalidArgument)
	}
	if _, err := r.DB.Exec(ctx, `
		INSERT INTO inventory(id, product_id, quantity, version)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (product_id) DO NOTHING`, uuid.NewString(), productID); err != nil {
		return Record{}, err
	}
	return increment(ctx, r.DB, productID, qty)
}

func (r *Repo) Restore(ctx context.Context, productID string, qty int) (Record, error) {
	return increment(ctx, r.DB, productID, qty)
}

// increment is the optimistic path: read version, write only if unchanged.
func increment(ctx context.Context, q querier, productID string, qty int) (Record, error) {
	for attempt := 0; attempt < optimisticRetries; attempt++ {
		rec, err := getRecord(ctx, q, productID)
		if err != nil {
			return Record{}, err
		}
		expected := rec.Version
		if err := rec.AddStock(qty); err != nil {
			return Record{}, err
		}
		ct, err := q.Exec(ctx, `
			UPDATE inventory SET quantity=$2, version=$3, updated_at=now()
			WHERE id=$1 AND version=$4`, rec.ID, rec.Quantity, rec.Version, expected)
		if err != nil {
			return Record{}, err
		}
		if ct.RowsAffected() == 1 {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("inventory %s after %d attempts: %w", productID, optimisticRetries, apperr.ErrConflict)
}

func (r *Repo) GetProduct(ctx context.Context, productID string) (Product, error) {
	var (
		p        Product
		price    string
		discount *string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT p.id, p.name, p.price::text, p.discount_price::text, p.active, COALESCE(i.quantity, 0)
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.id=$1`, productID).
		Scan(&p.ID, &p.Name, &price, &discount, &p.Active, &p.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", productID, apperr.ErrNotFound)
	}
	if err != nil {
		return Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", productID, err)
	}
	if discount != nil {
		d, err := decimal.NewFromString(*discount)
		if err != nil {
			return Product{}, fmt.Errorf("product %s discount: %w", productID, err)
		}
		p.DiscountPrice = &d
	}
	return p, nil
}
