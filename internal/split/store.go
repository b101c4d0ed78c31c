package split

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("split: store unavailable")

// ErrNotFound is returned when a session, participant or snapshot row does
// not exist.
var ErrNotFound = errors.New("split: not found")

// NewStore constructs a Store backed by a pgx connection pool. Receipt
// reads are delegated to the receipt store so both services see the same
// row mapping.
func NewStore(pool *pgxpool.Pool, receipts *receipt.PGStore) *PGStore {
	return &PGStore{pool: pool, receipts: receipts}
}

// PGStore persists split sessions, participants, claims and finalized
// snapshots in PostgreSQL.
type PGStore struct {
	pool     *pgxpool.Pool
	receipts *receipt.PGStore
}

// CreateSession inserts a session with its participant roster. Positions
// follow the given order.
func (s *PGStore) CreateSession(ctx context.Context, sess *Session, participants []Participant) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `INSERT INTO split_sessions (id, receipt_id)
VALUES ($1, $2) RETURNING created_at`, sess.ID, sess.ReceiptID).Scan(&sess.CreatedAt); err != nil {
		return err
	}
	for i := range participants {
		participants[i].SessionID = sess.ID
		participants[i].Position = i
		if _, err := tx.Exec(ctx, `INSERT INTO split_participants (id, session_id, display_name, position)
VALUES ($1, $2, $3, $4)`,
			participants[i].ID, sess.ID, participants[i].DisplayName, i); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetSession fetches one session by ID.
func (s *PGStore) GetSession(ctx context.Context, id string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrStoreUnavailable
	}
	return s.scanSession(s.pool.QueryRow(ctx, `SELECT id, receipt_id, share_code, finalized, finalized_at, created_at
FROM split_sessions WHERE id = $1`, id))
}

// GetSessionByShareCode resolves a public share code to its finalized
// session.
func (s *PGStore) GetSessionByShareCode(ctx context.Context, code string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, ErrStoreUnavailable
	}
	return s.scanSession(s.pool.QueryRow(ctx, `SELECT id, receipt_id, share_code, finalized, finalized_at, created_at
FROM split_sessions WHERE share_code = $1 AND finalized`, code))
}

func (s *PGStore) scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var code *string
	err := row.Scan(&sess.ID, &sess.ReceiptID, &code, &sess.Finalized, &sess.FinalizedAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if code != nil {
		sess.ShareCode = *code
	}
	return sess, nil
}

// GetReceipt delegates to the receipt store.
func (s *PGStore) GetReceipt(ctx context.Context, receiptID string) (receipt.Receipt, error) {
	if s == nil || s.receipts == nil {
		return receipt.Receipt{}, ErrStoreUnavailable
	}
	return s.receipts.GetReceipt(ctx, receiptID)
}

// ListReceiptItems delegates to the receipt store.
func (s *PGStore) ListReceiptItems(ctx context.Context, receiptID string) ([]receipt.LineItem, error) {
	if s == nil || s.receipts == nil {
		return nil, ErrStoreUnavailable
	}
	return s.receipts.ListItems(ctx, receiptID)
}

// ListParticipants returns the session roster in position order.
func (s *PGStore) ListParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, session_id, display_name, position
FROM split_participants WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.Position); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListClaims returns the session's current claim set.
func (s *PGStore) ListClaims(ctx context.Context, sessionID string) ([]Claim, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT item_id, participant_id, quantity
FROM split_claims WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ItemID, &c.ParticipantID, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceClaims swaps the whole claim set in one transaction.
func (s *PGStore) ReplaceClaims(ctx context.Context, sessionID string, claims []Claim) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM split_claims WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	for _, c := range claims {
		if _, err := tx.Exec(ctx, `INSERT INTO split_claims (session_id, item_id, participant_id, quantity)
VALUES ($1, $2, $3, $4)`, sessionID, c.ItemID, c.ParticipantID, c.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SaveSnapshot writes the finalized allocation rows, replacing any partial
// earlier write.
func (s *PGStore) SaveSnapshot(ctx context.Context, sessionID string, snapshot []SnapshotRow) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM split_snapshots WHERE session_id = $1`, sessionID); err != nil {
		return err
	}
	for _, r := range snapshot {
		if _, err := tx.Exec(ctx, `INSERT INTO split_snapshots
(session_id, participant_id, display_name, position, items_subtotal, discount, tax, tip, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sessionID, r.ParticipantID, r.DisplayName, r.Position,
			r.ItemsSubtotal, r.Discount, r.Tax, r.Tip, r.Total); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListSnapshot returns the finalized allocation rows in position order.
func (s *PGStore) ListSnapshot(ctx context.Context, sessionID string) ([]SnapshotRow, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT session_id, participant_id, display_name, position,
items_subtotal, discount, tax, tip, total
FROM split_snapshots WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.SessionID, &r.ParticipantID, &r.DisplayName, &r.Position,
			&r.ItemsSubtotal, &r.Discount, &r.Tax, &r.Tip, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkFinalized flips the session to finalized exactly once; a second call
// for an already-finalized session affects no rows and returns ErrNotFound.
// The unique index on share_code backstops concurrent writers.
func (s *PGStore) MarkFinalized(ctx context.Context, sessionID, shareCode string, at time.Time) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE split_sessions
SET finalized = true, share_code = $2, finalized_at = $3
WHERE id = $1 AND NOT finalized`, sessionID, shareCode, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ShareCodeExists reports whether a share code is already taken.
func (s *PGStore) ShareCodeExists(ctx context.Context, code string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM split_sessions WHERE share_code = $1)`, code).Scan(&exists)
	return exists, err
}
