// Package reconcile decides whether a receipt's line items can be trusted
// against its printed totals and keeps the stored aggregate consistent by
// managing a system-generated adjustment line.
package reconcile

import (
	"fmt"

	"github.com/patungan-id/backend-patungan/internal/money"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// BaselineSource records which input produced the trusted subtotal.
type BaselineSource string

const (
	BaselineSubtotal BaselineSource = "SUBTOTAL"
	BaselineTotal    BaselineSource = "TOTAL"
	BaselineItems    BaselineSource = "ITEMS"
)

// Outcome is the reconciliation verdict. A tolerance failure is a normal
// outcome, never an error.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeNeedsReview Outcome = "NEEDS_REVIEW"
)

// Result is the full reconciliation verdict. It is computed fresh on every
// run and its fields are copied onto the receipt; it is never persisted as
// its own entity.
type Result struct {
	Outcome         Outcome
	ItemsSum        float64
	Baseline        float64
	BaselineSource  BaselineSource
	Discrepancy     float64
	NeedsAdjustment bool
	Reason          *string
}

// Calculate runs the pure reconciliation check over non-system-generated
// items and the printed totals. It has no side effects and is deterministic
// for identical inputs.
func Calculate(items []receipt.LineItem, printed receipt.Totals, policy Policy) Result {
	var itemsSum float64
	for _, li := range items {
		itemsSum += li.LineTotal
	}
	itemsSum = money.Round2(itemsSum)

	baseline, source := selectBaseline(itemsSum, printed)
	baseline = money.Round2(baseline)

	discrepancy := money.Round2(itemsSum - baseline)
	withinEpsilon := abs(discrepancy) <= policy.Epsilon

	totalConsistent := true
	var totalGap float64
	if printed.Subtotal != nil && printed.Total != nil {
		declared := *printed.Subtotal + deref(printed.Tax) + deref(printed.Tip)
		totalGap = money.Round2(declared - *printed.Total)
		totalConsistent = abs(totalGap) <= policy.Epsilon
	}

	res := Result{
		ItemsSum:        itemsSum,
		Baseline:        baseline,
		BaselineSource:  source,
		Discrepancy:     discrepancy,
		NeedsAdjustment: !withinEpsilon,
	}
	if withinEpsilon && totalConsistent {
		res.Outcome = OutcomeSuccess
		return res
	}
	res.Outcome = OutcomeNeedsReview
	var reason string
	if !withinEpsilon {
		reason = fmt.Sprintf("line items differ from %s baseline by %.2f (tolerance %.2f)",
			source, discrepancy, policy.Epsilon)
	} else {
		reason = fmt.Sprintf("grand total mismatch outside tolerance: subtotal+tax+tip differs from total by %.2f", totalGap)
	}
	res.Reason = &reason
	return res
}

// selectBaseline picks the trusted subtotal: the printed subtotal when
// present, else total minus tax and tip, else the items themselves.
func selectBaseline(itemsSum float64, printed receipt.Totals) (float64, BaselineSource) {
	if printed.Subtotal != nil {
		return *printed.Subtotal, BaselineSubtotal
	}
	if printed.Total != nil {
		return *printed.Total - deref(printed.Tax) - deref(printed.Tip), BaselineTotal
	}
	return itemsSum, BaselineItems
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
