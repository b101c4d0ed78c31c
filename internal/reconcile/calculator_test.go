package reconcile

import (
	"strings"
	"testing"

	"github.com/patungan-id/backend-patungan/internal/receipt"
)

func item(qty, unitPrice float64) receipt.LineItem {
	li := receipt.LineItem{Quantity: qty, UnitPrice: unitPrice, Kind: receipt.ItemKindUser}
	li.RecomputeDerived()
	return li
}

func fptr(v float64) *float64 { return &v }

func TestCalculateBaselineFromPrintedSubtotal(t *testing.T) {
	items := []receipt.LineItem{item(2, 5.00)}
	printed := receipt.Totals{Subtotal: fptr(10.40)}

	res := Calculate(items, printed, DefaultPolicy())

	if res.BaselineSource != BaselineSubtotal {
		t.Fatalf("baseline source = %s, want %s", res.BaselineSource, BaselineSubtotal)
	}
	if res.Baseline != 10.40 {
		t.Fatalf("baseline = %v, want 10.40", res.Baseline)
	}
	if res.Discrepancy != -0.40 {
		t.Fatalf("discrepancy = %v, want -0.40", res.Discrepancy)
	}
	if !res.NeedsAdjustment {
		t.Fatal("needs adjustment = false, want true")
	}
	if res.Outcome != OutcomeNeedsReview {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeNeedsReview)
	}
	if res.Reason == nil || !strings.Contains(*res.Reason, "-0.40") {
		t.Fatalf("reason = %v, want delta message naming -0.40", res.Reason)
	}
}

func TestCalculateBaselineDerivedFromTotal(t *testing.T) {
	items := []receipt.LineItem{item(1, 10.00)}
	printed := receipt.Totals{Tax: fptr(1.00), Tip: fptr(2.00), Total: fptr(13.00)}

	res := Calculate(items, printed, DefaultPolicy())

	if res.BaselineSource != BaselineTotal {
		t.Fatalf("baseline source = %s, want %s", res.BaselineSource, BaselineTotal)
	}
	if res.Baseline != 10.00 {
		t.Fatalf("baseline = %v, want 10.00", res.Baseline)
	}
	if res.Discrepancy != 0 {
		t.Fatalf("discrepancy = %v, want 0", res.Discrepancy)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeSuccess)
	}
	if res.Reason != nil {
		t.Fatalf("reason = %q, want nil", *res.Reason)
	}
}

func TestCalculateBaselineDerivedFromTotalMissingTaxTip(t *testing.T) {
	items := []receipt.LineItem{item(1, 13.00)}
	printed := receipt.Totals{Total: fptr(13.00)}

	res := Calculate(items, printed, DefaultPolicy())

	if res.BaselineSource != BaselineTotal {
		t.Fatalf("baseline source = %s, want %s", res.BaselineSource, BaselineTotal)
	}
	if res.Baseline != 13.00 {
		t.Fatalf("baseline = %v, want 13.00", res.Baseline)
	}
}

func TestCalculateNoPrintedTotalsTrustsItems(t *testing.T) {
	items := []receipt.LineItem{item(3, 4.25), item(1, 0.99)}

	res := Calculate(items, receipt.Totals{}, DefaultPolicy())

	if res.BaselineSource != BaselineItems {
		t.Fatalf("baseline source = %s, want %s", res.BaselineSource, BaselineItems)
	}
	if res.Baseline != res.ItemsSum {
		t.Fatalf("baseline = %v, want items sum %v", res.Baseline, res.ItemsSum)
	}
	if res.Discrepancy != 0 {
		t.Fatalf("discrepancy = %v, want 0", res.Discrepancy)
	}
	if res.NeedsAdjustment {
		t.Fatal("needs adjustment = true, want false")
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeSuccess)
	}
}

func TestCalculateGrandTotalMismatchDoesNotTriggerAdjustment(t *testing.T) {
	items := []receipt.LineItem{item(1, 10.00)}
	printed := receipt.Totals{
		Subtotal: fptr(10.00),
		Tax:      fptr(1.00),
		Tip:      fptr(1.00),
		Total:    fptr(13.00), // declared parts sum to 12.00
	}

	res := Calculate(items, printed, DefaultPolicy())

	if res.Outcome != OutcomeNeedsReview {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeNeedsReview)
	}
	if res.NeedsAdjustment {
		t.Fatal("needs adjustment = true, want false for a grand total mismatch alone")
	}
	if res.Reason == nil || !strings.Contains(*res.Reason, "grand total mismatch") {
		t.Fatalf("reason = %v, want grand total mismatch message", res.Reason)
	}
}

func TestCalculateWithinEpsilonSucceeds(t *testing.T) {
	items := []receipt.LineItem{item(1, 9.99)}
	printed := receipt.Totals{Subtotal: fptr(10.00)}

	res := Calculate(items, printed, Policy{Epsilon: 0.01})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeSuccess)
	}
	if res.NeedsAdjustment {
		t.Fatal("needs adjustment = true, want false within epsilon")
	}
}

func TestCalculateIgnoresSystemGeneratedFilterUpstream(t *testing.T) {
	// The calculator sums whatever it is given; callers choose the view.
	all := []receipt.LineItem{item(1, 10.00)}
	adj := receipt.LineItem{Quantity: 1, UnitPrice: 2.00, Kind: receipt.ItemKindAdjustment}
	adj.RecomputeDerived()
	all = append(all, adj)

	res := Calculate(all, receipt.Totals{Subtotal: fptr(12.00)}, DefaultPolicy())
	if res.Discrepancy != 0 {
		t.Fatalf("discrepancy = %v, want 0 when the adjustment is included", res.Discrepancy)
	}

	res = Calculate(receipt.ParsedItems(all), receipt.Totals{Subtotal: fptr(12.00)}, DefaultPolicy())
	if res.Discrepancy != -2.00 {
		t.Fatalf("discrepancy = %v, want -2.00 on the parsed view", res.Discrepancy)
	}
}

func TestPolicyCaps(t *testing.T) {
	p := Policy{Epsilon: 0.01, MaxAdjustmentAbs: 5.00, MaxAdjustmentPct: 0.25}

	if p.Capped(4.99, 100.00) {
		t.Fatal("Capped(4.99, 100.00) = true, want false")
	}
	if !p.Capped(5.01, 100.00) {
		t.Fatal("Capped(5.01, 100.00) = false, want true (absolute cap)")
	}
	if !p.Capped(-4.00, 10.00) {
		t.Fatal("Capped(-4.00, 10.00) = false, want true (percentage cap)")
	}
	if (Policy{Epsilon: 0.01}).Capped(1000, 1) {
		t.Fatal("zero caps should never trip")
	}
}
