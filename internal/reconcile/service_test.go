package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/patungan-id/backend-patungan/internal/receipt"
)

type memStore struct {
	rec     receipt.Receipt
	items   []receipt.LineItem
	saves   int
	inserts int
	missing bool

	failInsertAt int
	failSave     bool
}

var errStoreBroken = errors.New("store broken")

var errNotFound = receipt.ErrNotFound

func (m *memStore) GetReceipt(_ context.Context, id string) (receipt.Receipt, error) {
	if m.missing || m.rec.ID != id {
		return receipt.Receipt{}, errNotFound
	}
	return m.rec, nil
}

func (m *memStore) ListItems(_ context.Context, receiptID string) ([]receipt.LineItem, error) {
	out := make([]receipt.LineItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *memStore) SaveReceipt(_ context.Context, rec *receipt.Receipt) error {
	if m.failSave {
		return errStoreBroken
	}
	m.rec = *rec
	m.saves++
	return nil
}

func (m *memStore) CreateReceipt(_ context.Context, rec *receipt.Receipt) error {
	if rec.Status == "" {
		rec.Status = receipt.StatusPending
	}
	m.rec = *rec
	return nil
}

func (m *memStore) GetItem(_ context.Context, itemID string) (receipt.LineItem, error) {
	for _, li := range m.items {
		if li.ID == itemID {
			return li, nil
		}
	}
	return receipt.LineItem{}, errNotFound
}

func (m *memStore) InsertItem(_ context.Context, item *receipt.LineItem) error {
	m.inserts++
	if m.failInsertAt > 0 && m.inserts == m.failInsertAt {
		return errStoreBroken
	}
	m.items = append(m.items, *item)
	return nil
}

func (m *memStore) UpdateItem(_ context.Context, item receipt.LineItem) error {
	for i := range m.items {
		if m.items[i].ID == item.ID {
			m.items[i] = item
			return nil
		}
	}
	return errNotFound
}

func (m *memStore) DeleteItem(_ context.Context, itemID string) error {
	for i := range m.items {
		if m.items[i].ID == itemID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return errNotFound
}

func (m *memStore) adjustment() *receipt.LineItem {
	for i := range m.items {
		if m.items[i].Kind == receipt.ItemKindAdjustment {
			return &m.items[i]
		}
	}
	return nil
}

func userItem(id string, qty, unitPrice float64) receipt.LineItem {
	li := receipt.LineItem{ID: id, ReceiptID: "r1", Description: id, Quantity: qty, UnitPrice: unitPrice, Kind: receipt.ItemKindUser}
	li.RecomputeDerived()
	return li
}

func newStore(printed receipt.Totals, items ...receipt.LineItem) *memStore {
	return &memStore{
		rec:   receipt.Receipt{ID: "r1", Printed: printed},
		items: items,
	}
}

// txMemStore stages all writes of a unit of work and applies them to the
// base store only on success.
type txMemStore struct {
	*memStore
	begins    int
	commits   int
	rollbacks int
}

func (t *txMemStore) InTx(_ context.Context, fn func(receipt.Store) error) error {
	t.begins++
	staged := &memStore{
		rec:          t.rec,
		items:        append([]receipt.LineItem(nil), t.items...),
		saves:        t.saves,
		inserts:      t.inserts,
		missing:      t.missing,
		failInsertAt: t.failInsertAt,
		failSave:     t.failSave,
	}
	if err := fn(staged); err != nil {
		t.rollbacks++
		return err
	}
	*t.memStore = *staged
	t.commits++
	return nil
}

func TestReconcileCreatesAdjustmentThatClosesGap(t *testing.T) {
	store := newStore(
		receipt.Totals{Subtotal: fptr(12.00)},
		userItem("a", 2, 4.00),
		userItem("b", 1, 2.00),
	)
	svc := &Service{Store: store, Policy: DefaultPolicy()}

	res, err := svc.Reconcile(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Discrepancy != -2.00 {
		t.Fatalf("first run discrepancy = %v, want -2.00", res.Discrepancy)
	}
	if !res.NeedsAdjustment {
		t.Fatal("first run needs adjustment = false, want true")
	}
	if store.rec.Status != receipt.StatusNeedsReview || !store.rec.NeedsReview {
		t.Fatalf("receipt status = %s/%v, want NEEDS_REVIEW/true", store.rec.Status, store.rec.NeedsReview)
	}

	adj := store.adjustment()
	if adj == nil {
		t.Fatal("no adjustment line written")
	}
	if adj.UnitPrice != 2.00 || adj.Quantity != 1 {
		t.Fatalf("adjustment = qty %v @ %v, want 1 @ 2.00", adj.Quantity, adj.UnitPrice)
	}
	if adj.Description != receipt.AdjustmentLabel {
		t.Fatalf("adjustment description = %q, want %q", adj.Description, receipt.AdjustmentLabel)
	}

	// Second run with no edits: the gap reads as closed and the
	// adjustment amount is unchanged.
	res, err = svc.Reconcile(context.Background(), "r1")
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if res.Discrepancy != 0 {
		t.Fatalf("second run discrepancy = %v, want 0", res.Discrepancy)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("second run outcome = %s, want %s", res.Outcome, OutcomeSuccess)
	}
	adj = store.adjustment()
	if adj == nil {
		t.Fatal("adjustment removed on second run")
	}
	if adj.UnitPrice != 2.00 {
		t.Fatalf("second run adjustment amount = %v, want unchanged 2.00", adj.UnitPrice)
	}
	if store.rec.Status != receipt.StatusParsed || store.rec.NeedsReview {
		t.Fatalf("second run status = %s/%v, want PARSED/false", store.rec.Status, store.rec.NeedsReview)
	}
}

func TestReconcileRemovesAdjustmentWhenItemsMatch(t *testing.T) {
	store := newStore(
		receipt.Totals{Subtotal: fptr(12.00)},
		userItem("a", 2, 4.00),
		userItem("b", 1, 2.00),
	)
	svc := &Service{Store: store, Policy: DefaultPolicy()}
	if _, err := svc.Reconcile(context.Background(), "r1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if store.adjustment() == nil {
		t.Fatal("expected adjustment after first run")
	}

	// User corrects the mispriced item so the math stands on its own.
	fixed := userItem("b", 1, 4.00)
	if err := store.UpdateItem(context.Background(), fixed); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	if _, err := svc.Reconcile(context.Background(), "r1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if store.adjustment() != nil {
		t.Fatal("adjustment still present after items were corrected")
	}
}

func TestReconcileSkipsAdjustmentBeyondCaps(t *testing.T) {
	store := newStore(
		receipt.Totals{Subtotal: fptr(100.00)},
		userItem("a", 1, 10.00),
	)
	svc := &Service{Store: store, Policy: Policy{Epsilon: 0.01, MaxAdjustmentAbs: 20.00}}

	res, err := svc.Reconcile(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !res.NeedsAdjustment {
		t.Fatal("needs adjustment = false, want true")
	}
	if store.adjustment() != nil {
		t.Fatal("adjustment written despite exceeding the cap")
	}
	if store.rec.Status != receipt.StatusNeedsReview {
		t.Fatalf("status = %s, want NEEDS_REVIEW", store.rec.Status)
	}
}

func TestReconcileHeaderAggregation(t *testing.T) {
	taxed := userItem("a", 1, 10.00)
	taxed.LineTax = 1.00
	taxed.RecomputeDerived()
	store := newStore(receipt.Totals{}, taxed, userItem("b", 2, 2.50))
	svc := &Service{Store: store, Policy: DefaultPolicy()}

	if _, err := svc.Reconcile(context.Background(), "r1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if store.rec.HeaderSubtotal != 15.00 {
		t.Fatalf("header subtotal = %v, want 15.00", store.rec.HeaderSubtotal)
	}
	if store.rec.HeaderTax == nil || *store.rec.HeaderTax != 1.00 {
		t.Fatalf("header tax = %v, want 1.00", store.rec.HeaderTax)
	}
	if store.rec.HeaderTotal != 16.00 {
		t.Fatalf("header total = %v, want 16.00", store.rec.HeaderTotal)
	}
}

func TestReconcileHeaderTaxNulledWhenZero(t *testing.T) {
	store := newStore(receipt.Totals{}, userItem("a", 1, 5.00))
	svc := &Service{Store: store, Policy: DefaultPolicy()}

	if _, err := svc.Reconcile(context.Background(), "r1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if store.rec.HeaderTax != nil {
		t.Fatalf("header tax = %v, want nil when the tax sum is zero", *store.rec.HeaderTax)
	}
}

func TestReconcileMissingReceipt(t *testing.T) {
	store := &memStore{missing: true}
	svc := &Service{Store: store, Policy: DefaultPolicy()}
	if _, err := svc.Reconcile(context.Background(), "nope"); !errors.Is(err, errNotFound) {
		t.Fatalf("error = %v, want wrapped not-found", err)
	}
}


func TestReconcileCommitsAsOneUnitOfWork(t *testing.T) {
	store := &txMemStore{memStore: newStore(
		receipt.Totals{Subtotal: fptr(12.00)},
		userItem("a", 2, 4.00),
		userItem("b", 1, 2.00),
	)}
	svc := &Service{Store: store, Policy: DefaultPolicy()}

	if _, err := svc.Reconcile(context.Background(), "r1"); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if store.begins != 1 || store.commits != 1 || store.rollbacks != 0 {
		t.Fatalf("tx counts = %d/%d/%d, want 1 begin, 1 commit, 0 rollbacks",
			store.begins, store.commits, store.rollbacks)
	}
	if store.adjustment() == nil {
		t.Fatal("committed pass did not persist the adjustment")
	}
}

func TestReconcileRollsBackStagedWritesOnError(t *testing.T) {
	base := newStore(
		receipt.Totals{Subtotal: fptr(12.00)},
		userItem("a", 2, 4.00),
		userItem("b", 1, 2.00),
	)
	base.failSave = true
	store := &txMemStore{memStore: base}
	svc := &Service{Store: store, Policy: DefaultPolicy()}

	if _, err := svc.Reconcile(context.Background(), "r1"); !errors.Is(err, errStoreBroken) {
		t.Fatalf("Reconcile() error = %v, want store failure", err)
	}
	if store.rollbacks != 1 {
		t.Fatalf("rollbacks = %d, want 1", store.rollbacks)
	}
	if base.adjustment() != nil {
		t.Fatal("adjustment from the failed pass leaked into the store")
	}
	if base.saves != 0 {
		t.Fatalf("saves = %d, want 0 after rollback", base.saves)
	}
}
