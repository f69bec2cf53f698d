package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/michaelmcclelland/orderflow/internal/database"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyCancelled = errors.New("order already cancelled")
)

const (
	StatusPlaced    = "placed"
	StatusCancelled = "cancelled"
)

type Order struct {
	ID         string
	CustomerID string
	Currency   string
	TotalCents int64
	Status     string
	PlacedAt   time.Time
	Lines      []OrderLine
}

type OrderLine struct {
	SKU            string
	Quantity       int
	UnitPriceCents int64
}

// InsertOrder stores an order and its lines in one transaction. It reports
// false when the order already existed, in which case nothing is written.
func InsertOrder(ctx context.Context, pool *pgxpool.Pool, o Order) (bool, error) {
	inserted := false
	err := database.WithTx(ctx, pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`INSERT INTO orders (id, customer_id, currency, total_cents, status, placed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING
			 RETURNING id`,
			o.ID, o.CustomerID, o.Currency, o.TotalCents, StatusPlaced, o.PlacedAt).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		if err := tx.SendBatch(ctx, lineBatch(o)).Close(); err != nil {
			return fmt.Errorf("inserting order lines: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func lineBatch(o Order) *pgx.Batch {
	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(
			`INSERT INTO order_lines (order_id, line_no, sku, quantity, unit_price_cents) VALUES ($1, $2, $3, $4, $5)`,
			o.ID, i+1, l.SKU, l.Quantity, l.UnitPriceCents)
	}
	return batch
}

// CancelOrder marks an order cancelled. It returns ErrOrderNotFound for
// unknown ids and ErrAlreadyCancelled when there is nothing to change.
func CancelOrder(ctx context.Context, pool *pgxpool.Pool, id, reason string) error {
	tag, err := pool.Exec(ctx,
		`UPDATE orders SET status = $2, cancel_reason = $3, cancelled_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status <> $2`,
		id, StatusCancelled, reason)
	if err != nil {
		return fmt.Errorf("cancelling order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("reading order status: %w", err)
	}
	return ErrAlreadyCancelled
}

// RecordInvoice links an archived invoice to its order.
func RecordInvoice(ctx context.Context, pool *pgxpool.Pool, invoiceID, orderID, htmlKey, textKey, contentHash string) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO invoices (id, order_id, s3_html_key, s3_text_key, content_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET s3_html_key = $3, s3_text_key = $4, content_hash = $5, updated_at = NOW()`,
		invoiceID, orderID, htmlKey, textKey, contentHash)
	if err != nil {
		return fmt.Errorf("recording invoice: %w", err)
	}
	return nil
}

// Orders adapts the package functions to a pool-bound store.
type Orders struct {
	pool *pgxpool.Pool
}

func NewOrders(pool *pgxpool.Pool) *Orders {
	return &Orders{pool: pool}
}

func (o *Orders) InsertOrder(ctx context.Context, order Order) (bool, error) {
	return InsertOrder(ctx, o.pool, order)
}

func (o *Orders) CancelOrder(ctx context.Context, id, reason string) error {
	return CancelOrder(ctx, o.pool, id, reason)
}

func (o *Orders) RecordInvoice(ctx context.Context, invoiceID, orderID, htmlKey, textKey, contentHash string) error {
	return RecordInvoice(ctx, o.pool, invoiceID, orderID, htmlKey, textKey, contentHash)
}
