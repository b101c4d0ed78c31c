package split

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patungan-id/backend-patungan/internal/events"
	"github.com/patungan-id/backend-patungan/internal/money"
	"github.com/patungan-id/backend-patungan/internal/obs"
	"github.com/patungan-id/backend-patungan/internal/paylink"
	"github.com/patungan-id/backend-patungan/internal/receipt"
	"github.com/patungan-id/backend-patungan/internal/sharecode"
)

var (
	// ErrUnknownItem is returned when a claim references an item that is
	// not on the session's receipt.
	ErrUnknownItem = errors.New("claim references an unknown item")
	// ErrUnknownParticipant is returned when a claim references a
	// participant outside the session.
	ErrUnknownParticipant = errors.New("claim references an unknown participant")
	// ErrOverClaimed is returned when claim shares for one item sum above
	// the item's quantity.
	ErrOverClaimed = errors.New("claims exceed item quantity")
	// ErrInvalidClaimQuantity is returned for zero or negative shares.
	ErrInvalidClaimQuantity = errors.New("claim quantity must be positive")
)

// Store captures the persistence operations required by the split service.
// The read-modify-write inside Finalize is expected to run in one unit of
// work; cross-process exclusion comes from the Locker.
type Store interface {
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionByShareCode(ctx context.Context, code string) (Session, error)
	GetReceipt(ctx context.Context, receiptID string) (receipt.Receipt, error)
	ListReceiptItems(ctx context.Context, receiptID string) ([]receipt.LineItem, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	ListClaims(ctx context.Context, sessionID string) ([]Claim, error)
	ReplaceClaims(ctx context.Context, sessionID string, claims []Claim) error
	SaveSnapshot(ctx context.Context, sessionID string, rows []SnapshotRow) error
	ListSnapshot(ctx context.Context, sessionID string) ([]SnapshotRow, error)
	MarkFinalized(ctx context.Context, sessionID, shareCode string, at time.Time) error
	ShareCodeExists(ctx context.Context, code string) (bool, error)
}

// Locker serialises finalize calls per session. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// FinalizeResult is the payload returned to callers of Finalize, built
// either from a fresh allocation or from the stored snapshot.
type FinalizeResult struct {
	SessionID   string
	ShareCode   string
	Allocations []Allocation
	Links       []paylink.Link
	Replayed    bool
}

// Service orchestrates claim updates, previews and the one-shot finalize.
type Service struct {
	Store  Store
	Codes  sharecode.Generator
	Locker Locker
	// LockTTL bounds how long a finalize holds the per-session lock.
	// Zero means ten seconds.
	LockTTL time.Duration
	Links   paylink.Builder
	Events  *events.Bus
	Now     func() time.Time
}

// Preview computes a live allocation for the session without mutating
// anything.
func (s *Service) Preview(ctx context.Context, sessionID string) (Preview, error) {
	if s == nil || s.Store == nil {
		return Preview{}, errors.New("split service not configured")
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return Preview{}, fmt.Errorf("load session: %w", err)
	}
	return s.allocate(ctx, sess)
}

func (s *Service) allocate(ctx context.Context, sess Session) (Preview, error) {
	rec, err := s.Store.GetReceipt(ctx, sess.ReceiptID)
	if err != nil {
		return Preview{}, fmt.Errorf("load receipt: %w", err)
	}
	items, err := s.Store.ListReceiptItems(ctx, sess.ReceiptID)
	if err != nil {
		return Preview{}, fmt.Errorf("load items: %w", err)
	}
	participants, err := s.Store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return Preview{}, fmt.Errorf("load participants: %w", err)
	}
	claims, err := s.Store.ListClaims(ctx, sess.ID)
	if err != nil {
		return Preview{}, fmt.Errorf("load claims: %w", err)
	}
	return Allocate(items, rec.Printed, participants, claims), nil
}

// UpdateClaims validates and replaces the session's claim set. Claims whose
// per-item sum exceeds the item quantity never reach the allocator.
func (s *Service) UpdateClaims(ctx context.Context, sessionID string, claims []Claim) error {
	if s == nil || s.Store == nil {
		return errors.New("split service not configured")
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	items, err := s.Store.ListReceiptItems(ctx, sess.ReceiptID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	participants, err := s.Store.ListParticipants(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	itemQty := make(map[string]float64, len(items))
	for _, it := range items {
		itemQty[it.ID] = it.Quantity
	}
	known := make(map[string]bool, len(participants))
	for _, p := range participants {
		known[p.ID] = true
	}

	claimed := make(map[string]float64, len(items))
	for _, c := range claims {
		if c.Quantity <= 0 {
			return fmt.Errorf("item %s participant %s: %w", c.ItemID, c.ParticipantID, ErrInvalidClaimQuantity)
		}
		qty, ok := itemQty[c.ItemID]
		if !ok {
			return fmt.Errorf("item %s: %w", c.ItemID, ErrUnknownItem)
		}
		if !known[c.ParticipantID] {
			return fmt.Errorf("participant %s: %w", c.ParticipantID, ErrUnknownParticipant)
		}
		claimed[c.ItemID] += c.Quantity
		if money.Round3(claimed[c.ItemID]) > qty {
			return fmt.Errorf("item %s: claimed %.3f of %.3f: %w", c.ItemID, claimed[c.ItemID], qty, ErrOverClaimed)
		}
	}
	return s.Store.ReplaceClaims(ctx, sessionID, claims)
}

// Finalize freezes the session's allocation into a snapshot exactly once.
// Repeat calls replay the stored snapshot without recomputation. The whole
// check-then-write sequence runs under a per-session lock so two
// near-simultaneous calls cannot both create a snapshot.
func (s *Service) Finalize(ctx context.Context, sessionID string) (FinalizeResult, error) {
	if s == nil || s.Store == nil {
		return FinalizeResult{}, errors.New("split service not configured")
	}
	var result FinalizeResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.finalizeLocked(ctx, sessionID)
		return err
	}
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		if err := s.Locker.WithLock(ctx, "split:finalize:"+sessionID, ttl, run); err != nil {
			return FinalizeResult{}, err
		}
		return result, nil
	}
	if err := run(ctx); err != nil {
		return FinalizeResult{}, err
	}
	return result, nil
}

func (s *Service) finalizeLocked(ctx context.Context, sessionID string) (FinalizeResult, error) {
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("load session: %w", err)
	}

	if sess.Finalized && sess.ShareCode != "" {
		rows, err := s.Store.ListSnapshot(ctx, sess.ID)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("load snapshot: %w", err)
		}
		obs.ObserveFinalize("replayed")
		return s.buildResult(sess.ID, sess.ShareCode, allocationsFromRows(rows), true), nil
	}

	pv, err := s.allocate(ctx, sess)
	if err != nil {
		return FinalizeResult{}, err
	}
	rows := make([]SnapshotRow, len(pv.Allocations))
	for i, a := range pv.Allocations {
		rows[i] = SnapshotRow{
			SessionID:     sess.ID,
			ParticipantID: a.ParticipantID,
			DisplayName:   a.DisplayName,
			Position:      a.Position,
			ItemsSubtotal: a.ItemsSubtotal,
			Discount:      a.Discount,
			Tax:           a.Tax,
			Tip:           a.Tip,
			Total:         a.Total,
		}
	}
	if err := s.Store.SaveSnapshot(ctx, sess.ID, rows); err != nil {
		return FinalizeResult{}, fmt.Errorf("save snapshot: %w", err)
	}

	code := sess.ShareCode
	if code == "" {
		gen := s.Codes
		if gen.Exists == nil {
			gen.Exists = s.Store.ShareCodeExists
		}
		if gen.OnRetry == nil {
			gen.OnRetry = obs.ObserveShareCodeRetry
		}
		code, err = gen.New(ctx)
		if err != nil {
			return FinalizeResult{}, err
		}
	}
	if err := s.Store.MarkFinalized(ctx, sess.ID, code, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost a finalize race the lock did not cover; the session
			// exists and someone else's snapshot is authoritative.
			return s.replayFinalized(ctx, sess.ID)
		}
		return FinalizeResult{}, fmt.Errorf("mark finalized: %w", err)
	}

	obs.ObserveFinalize("created")
	if s.Events != nil {
		_, _ = s.Events.Emit(ctx, events.TopicSplitFinalized, sess.ID, map[string]any{
			"sessionId":    sess.ID,
			"shareCode":    code,
			"participants": len(pv.Allocations),
			"total":        pv.Total,
		})
	}
	return s.buildResult(sess.ID, code, pv.Allocations, false), nil
}

// replayFinalized rebuilds the finalize payload from the persisted
// snapshot of a session finalized by another caller.
func (s *Service) replayFinalized(ctx context.Context, sessionID string) (FinalizeResult, error) {
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Finalized || sess.ShareCode == "" {
		return FinalizeResult{}, fmt.Errorf("mark finalized: %w", ErrNotFound)
	}
	rows, err := s.Store.ListSnapshot(ctx, sess.ID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("load snapshot: %w", err)
	}
	obs.ObserveFinalize("replayed")
	return s.buildResult(sess.ID, sess.ShareCode, allocationsFromRows(rows), true), nil
}

// Shared resolves a public share code to its immutable snapshot.
func (s *Service) Shared(ctx context.Context, code string) (Session, []SnapshotRow, error) {
	if s == nil || s.Store == nil {
		return Session{}, nil, errors.New("split service not configured")
	}
	sess, err := s.Store.GetSessionByShareCode(ctx, code)
	if err != nil {
		return Session{}, nil, fmt.Errorf("resolve share code: %w", err)
	}
	rows, err := s.Store.ListSnapshot(ctx, sess.ID)
	if err != nil {
		return Session{}, nil, fmt.Errorf("load snapshot: %w", err)
	}
	return sess, rows, nil
}

func (s *Service) buildResult(sessionID, code string, allocs []Allocation, replayed bool) FinalizeResult {
	res := FinalizeResult{
		SessionID:   sessionID,
		ShareCode:   code,
		Allocations: allocs,
		Replayed:    replayed,
	}
	if s.Links != nil {
		res.Links = make([]paylink.Link, len(allocs))
		for i, a := range allocs {
			res.Links[i] = paylink.Link{
				ParticipantID: a.ParticipantID,
				DisplayName:   a.DisplayName,
				AmountOwed:    a.Total,
				URL:           s.Links.Build(a.ParticipantID, a.DisplayName, a.Total),
			}
		}
	}
	return res
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func allocationsFromRows(rows []SnapshotRow) []Allocation {
	out := make([]Allocation, len(rows))
	for i, r := range rows {
		out[i] = Allocation{
			ParticipantID: r.ParticipantID,
			DisplayName:   r.DisplayName,
			Position:      r.Position,
			ItemsSubtotal: r.ItemsSubtotal,
			Discount:      r.Discount,
			Tax:           r.Tax,
			Tip:           r.Tip,
			Total:         r.Total,
		}
	}
	return out
}
