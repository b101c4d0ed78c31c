package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/patungan-id/backend-patungan/internal/events"
	"github.com/patungan-id/backend-patungan/internal/money"
	"github.com/patungan-id/backend-patungan/internal/obs"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// Store captures the persistence operations required by the orchestrator.
type Store interface {
	GetReceipt(ctx context.Context, id string) (receipt.Receipt, error)
	ListItems(ctx context.Context, receiptID string) ([]receipt.LineItem, error)
	SaveReceipt(ctx context.Context, rec *receipt.Receipt) error
	InsertItem(ctx context.Context, item *receipt.LineItem) error
	UpdateItem(ctx context.Context, item receipt.LineItem) error
	DeleteItem(ctx context.Context, itemID string) error
}

// TxStore is implemented by stores that can scope a whole pass to a
// single database transaction. When the orchestrator's store supports
// it, each Reconcile call commits or rolls back as one unit of work.
type TxStore interface {
	InTx(ctx context.Context, fn func(receipt.Store) error) error
}

// Service keeps a receipt's stored header totals, transparency fields and
// system-generated adjustment line consistent with its current items.
type Service struct {
	Store  Store
	Policy Policy
	Events *events.Bus
}

// Reconcile runs one orchestration pass over the receipt.
//
// The calculator runs twice over different views of the item set. The
// persisted transparency fields come from the full item set, adjustment
// included, so a corrected receipt reports a zero discrepancy on the run
// after the correction. The adjustment decision itself runs over the
// parsed view only: the engine-managed line never feeds its own sizing,
// which keeps repeat passes stable instead of oscillating between
// creating and removing the line.
func (s *Service) Reconcile(ctx context.Context, receiptID string) (Result, error) {
	if s == nil || s.Store == nil {
		return Result{}, errors.New("reconcile service not configured")
	}
	var report Result
	if tx, ok := s.Store.(TxStore); ok {
		err := tx.InTx(ctx, func(st receipt.Store) error {
			var err error
			report, err = s.reconcile(ctx, st, receiptID)
			return err
		})
		if err != nil {
			return Result{}, err
		}
	} else {
		var err error
		report, err = s.reconcile(ctx, s.Store, receiptID)
		if err != nil {
			return Result{}, err
		}
	}
	s.emitReconciled(ctx, receiptID, report)
	return report, nil
}

// reconcile is one pass against the given store, which may be scoped to
// an open transaction.
func (s *Service) reconcile(ctx context.Context, store Store, receiptID string) (Result, error) {
	rec, err := store.GetReceipt(ctx, receiptID)
	if err != nil {
		return Result{}, fmt.Errorf("load receipt: %w", err)
	}
	items, err := store.ListItems(ctx, receiptID)
	if err != nil {
		return Result{}, fmt.Errorf("load items: %w", err)
	}

	rec.HeaderSubtotal, rec.HeaderTax, rec.HeaderTotal = receipt.AggregateHeaders(items)

	report := Calculate(items, rec.Printed, s.Policy)
	parsed := Calculate(receipt.ParsedItems(items), rec.Printed, s.Policy)

	rec.ItemsSum = report.ItemsSum
	rec.Baseline = report.Baseline
	rec.BaselineSource = string(report.BaselineSource)
	rec.Discrepancy = report.Discrepancy
	rec.ReconcileReason = report.Reason
	if report.Outcome == OutcomeSuccess {
		rec.Status = receipt.StatusParsed
		rec.NeedsReview = false
	} else {
		rec.Status = receipt.StatusNeedsReview
		rec.NeedsReview = true
	}

	items, err = s.upsertAdjustment(ctx, store, &rec, items, parsed)
	if err != nil {
		return Result{}, err
	}

	rec.HeaderSubtotal, rec.HeaderTax, rec.HeaderTotal = receipt.AggregateHeaders(items)
	if err := store.SaveReceipt(ctx, &rec); err != nil {
		return Result{}, fmt.Errorf("save receipt: %w", err)
	}

	obs.ObserveReconciliation(string(report.Outcome))
	return report, nil
}

// emitReconciled publishes the outcome event once the pass has
// committed.
func (s *Service) emitReconciled(ctx context.Context, receiptID string, report Result) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, events.TopicReceiptReconciled, receiptID, map[string]any{
		"receiptId":   receiptID,
		"outcome":     string(report.Outcome),
		"discrepancy": report.Discrepancy,
		"baseline":    report.Baseline,
	})
}

// upsertAdjustment writes, updates or removes the engine-managed line so
// that the item sum meets the baseline on the next pass. The adjustment is
// skipped entirely when its size would exceed the policy caps.
func (s *Service) upsertAdjustment(ctx context.Context, store Store, rec *receipt.Receipt, items []receipt.LineItem, result Result) ([]receipt.LineItem, error) {
	existingIdx := -1
	for i, li := range items {
		if li.Kind == receipt.ItemKindAdjustment {
			existingIdx = i
			break
		}
	}

	if !result.NeedsAdjustment {
		if existingIdx >= 0 {
			if err := store.DeleteItem(ctx, items[existingIdx].ID); err != nil {
				return nil, fmt.Errorf("remove adjustment: %w", err)
			}
			items = append(items[:existingIdx], items[existingIdx+1:]...)
		}
		return items, nil
	}

	delta := money.Round2(result.Baseline - result.ItemsSum)
	if s.Policy.Capped(delta, result.Baseline) {
		obs.ObserveAdjustment("capped")
		return items, nil
	}

	if existingIdx >= 0 {
		adj := items[existingIdx]
		adj.UnitPrice = delta
		adj.Quantity = 1
		adj.RecomputeDerived()
		if err := store.UpdateItem(ctx, adj); err != nil {
			return nil, fmt.Errorf("update adjustment: %w", err)
		}
		items[existingIdx] = adj
		obs.ObserveAdjustment("updated")
		return items, nil
	}

	adj := receipt.LineItem{
		ID:          uuid.NewString(),
		ReceiptID:   rec.ID,
		Description: receipt.AdjustmentLabel,
		Quantity:    1,
		UnitPrice:   delta,
		Kind:        receipt.ItemKindAdjustment,
		Position:    len(items),
	}
	adj.RecomputeDerived()
	if err := store.InsertItem(ctx, &adj); err != nil {
		return nil, fmt.Errorf("insert adjustment: %w", err)
	}
	obs.ObserveAdjustment("created")
	return append(items, adj), nil
}
