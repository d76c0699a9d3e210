package payment

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

type Repo struct{ DB *pgxpool.Pool }

var _ Repository = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, p *Payment) error {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, user_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING`,
		p.ID, p.OrderID, p.UserID, p.Amount.String(), string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, apperr.ErrConflict)
	}
	return nil
}

func (r *Repo) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	var (
		p              Payment
		status, amount string
		tx, reason     *string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, user_id, amount::text, status, transaction_id, failure_reason, created_at, updated_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.UserID, &amount, &status, &tx, &reason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if tx != nil {
		p.TransactionID = *tx
	}
	if reason != nil {
		p.FailureReason = *reason
	}
	return &p, nil
}

func (r *Repo) Update(ctx context.Context, p *Payment, expected Status) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments
		SET status=$3, transaction_id=NULLIF($4, ''), failure_reason=NULLIF($5, ''), updated_at=$6
		WHERE id=$1 AND status=$2`,
		p.ID, string(expected), string(p.Status), p.TransactionID, p.FailureReason, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("payment %s no longer %s: %w", p.ID, expected, apperr.ErrConflict)
	}
	return nil
}
