package receipt

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("receipt: store unavailable")

// ErrNotFound is returned when a receipt or item does not exist.
var ErrNotFound = errors.New("receipt: not found")

// Store is the full persistence surface for receipts and their items.
type Store interface {
	CreateReceipt(ctx context.Context, rec *Receipt) error
	GetReceipt(ctx context.Context, id string) (Receipt, error)
	SaveReceipt(ctx context.Context, rec *Receipt) error
	ListItems(ctx context.Context, receiptID string) ([]LineItem, error)
	GetItem(ctx context.Context, itemID string) (LineItem, error)
	InsertItem(ctx context.Context, item *LineItem) error
	UpdateItem(ctx context.Context, item LineItem) error
	DeleteItem(ctx context.Context, itemID string) error
}

// querier is the statement surface shared by a pool and an open
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, db: pool}
}

// PGStore persists receipts and their line items in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
	db   querier
}

// InTx runs fn against a store whose statements all share one
// transaction. The transaction commits when fn returns nil and rolls
// back otherwise, so a multi-step write either lands whole or not at
// all.
func (s *PGStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(&PGStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateReceipt inserts a new receipt with its printed totals. Derived and
// reconciliation fields start at their zero values; Status starts PENDING.
func (s *PGStore) CreateReceipt(ctx context.Context, rec *Receipt) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	return s.db.QueryRow(ctx, `INSERT INTO receipts
(id, merchant, currency, printed_subtotal, printed_tax, printed_tip, printed_total, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`,
		rec.ID, rec.Merchant, rec.Currency,
		rec.Printed.Subtotal, rec.Printed.Tax, rec.Printed.Tip, rec.Printed.Total,
		string(rec.Status),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// GetReceipt fetches one receipt by ID.
func (s *PGStore) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	if s == nil || s.db == nil {
		return Receipt{}, ErrStoreUnavailable
	}
	var rec Receipt
	var status string
	err := s.db.QueryRow(ctx, `SELECT id, merchant, currency,
printed_subtotal, printed_tax, printed_tip, printed_total,
header_subtotal, header_tax, header_total,
items_sum, baseline, baseline_source, discrepancy, reconcile_reason,
status, needs_review, created_at, updated_at
FROM receipts WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Merchant, &rec.Currency,
		&rec.Printed.Subtotal, &rec.Printed.Tax, &rec.Printed.Tip, &rec.Printed.Total,
		&rec.HeaderSubtotal, &rec.HeaderTax, &rec.HeaderTotal,
		&rec.ItemsSum, &rec.Baseline, &rec.BaselineSource, &rec.Discrepancy, &rec.ReconcileReason,
		&status, &rec.NeedsReview, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// SaveReceipt writes back the header aggregates and reconciliation fields.
// Printed totals are immutable after creation and are not touched here.
func (s *PGStore) SaveReceipt(ctx context.Context, rec *Receipt) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE receipts SET
header_subtotal = $2, header_tax = $3, header_total = $4,
items_sum = $5, baseline = $6, baseline_source = $7,
discrepancy = $8, reconcile_reason = $9,
status = $10, needs_review = $11, updated_at = now()
WHERE id = $1`,
		rec.ID,
		rec.HeaderSubtotal, rec.HeaderTax, rec.HeaderTotal,
		rec.ItemsSum, rec.Baseline, rec.BaselineSource,
		rec.Discrepancy, rec.ReconcileReason,
		string(rec.Status), rec.NeedsReview,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItems returns the receipt's items in stable position order.
func (s *PGStore) ListItems(ctx context.Context, receiptID string) ([]LineItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT id, receipt_id, description, quantity, unit_price,
line_subtotal, line_tax, line_total, kind, position
FROM receipt_items WHERE receipt_id = $1 ORDER BY position, id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var li LineItem
		var kind string
		if err := rows.Scan(&li.ID, &li.ReceiptID, &li.Description, &li.Quantity, &li.UnitPrice,
			&li.LineSubtotal, &li.LineTax, &li.LineTotal, &kind, &li.Position); err != nil {
			return nil, err
		}
		li.Kind = ItemKind(kind)
		items = append(items, li)
	}
	return items, rows.Err()
}

// GetItem fetches one line item by ID.
func (s *PGStore) GetItem(ctx context.Context, itemID string) (LineItem, error) {
	if s == nil || s.db == nil {
		return LineItem{}, ErrStoreUnavailable
	}
	var li LineItem
	var kind string
	err := s.db.QueryRow(ctx, `SELECT id, receipt_id, description, quantity, unit_price,
line_subtotal, line_tax, line_total, kind, position
FROM receipt_items WHERE id = $1`, itemID).Scan(
		&li.ID, &li.ReceiptID, &li.Description, &li.Quantity, &li.UnitPrice,
		&li.LineSubtotal, &li.LineTax, &li.LineTotal, &kind, &li.Position,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LineItem{}, ErrNotFound
	}
	if err != nil {
		return LineItem{}, err
	}
	li.Kind = ItemKind(kind)
	return li, nil
}

// InsertItem persists a new line item.
func (s *PGStore) InsertItem(ctx context.Context, item *LineItem) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `INSERT INTO receipt_items
(id, receipt_id, description, quantity, unit_price, line_subtotal, line_tax, line_total, kind, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.ReceiptID, item.Description, item.Quantity, item.UnitPrice,
		item.LineSubtotal, item.LineTax, item.LineTotal, string(item.Kind), item.Position,
	)
	return err
}

// UpdateItem rewrites an existing line item.
func (s *PGStore) UpdateItem(ctx context.Context, item LineItem) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE receipt_items SET
description = $2, quantity = $3, unit_price = $4,
line_subtotal = $5, line_tax = $6, line_total = $7, position = $8
WHERE id = $1`,
		item.ID, item.Description, item.Quantity, item.UnitPrice,
		item.LineSubtotal, item.LineTax, item.LineTotal, item.Position,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItem removes a line item by ID.
func (s *PGStore) DeleteItem(ctx context.Context, itemID string) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM receipt_items WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
