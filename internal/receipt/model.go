package receipt

import (
	"time"

	"github.com/patungan-id/backend-patungan/internal/money"
)

// Status reflects the reconciliation outcome stored on a receipt.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusParsed      Status = "PARSED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
)

// ItemKind distinguishes user-entered lines from engine-managed ones.
// The adjustment line is identified by kind, never by its label, so a
// user-entered line named "Adjustment" can never collide with it.
type ItemKind string

const (
	ItemKindUser       ItemKind = "USER"
	ItemKindAdjustment ItemKind = "ADJUSTMENT"
)

// AdjustmentLabel is the display description of the engine-managed line.
const AdjustmentLabel = "Adjustment"

// LineItem is a single line on a receipt. Quantity carries at most three
// decimals, unit price two. LineSubtotal and LineTotal are derived.
type LineItem struct {
	ID           string
	ReceiptID    string
	Description  string
	Quantity     float64
	UnitPrice    float64
	LineSubtotal float64
	LineTax      float64
	LineTotal    float64
	Kind         ItemKind
	Position     int
}

// SystemGenerated reports whether the line is managed by the engine.
func (li LineItem) SystemGenerated() bool {
	return li.Kind == ItemKindAdjustment
}

// RecomputeDerived refreshes the derived line amounts from quantity, unit
// price and line tax using the shared line math.
func (li *LineItem) RecomputeDerived() {
	li.LineSubtotal = money.Round2(li.Quantity * li.UnitPrice)
	li.LineTotal = money.Round2(li.LineSubtotal + li.LineTax)
}

// Totals holds the printed/declared receipt-level amounts. Any of them may
// be absent on a parsed receipt.
type Totals struct {
	Subtotal *float64
	Tax      *float64
	Tip      *float64
	Total    *float64
}

// Receipt is the persisted aggregate: header totals, parsed transparency
// fields and the reconciliation outcome copied from the last engine run.
type Receipt struct {
	ID       string
	Merchant string
	Currency string

	// Printed holds the totals as declared on the parsed receipt; they are
	// never recomputed. Header* are aggregates derived from the current
	// item set and are refreshed on every reconciliation pass.
	Printed        Totals
	HeaderSubtotal float64
	HeaderTax      *float64
	HeaderTotal    float64

	ItemsSum        float64
	Baseline        float64
	BaselineSource  string
	Discrepancy     float64
	ReconcileReason *string

	Status      Status
	NeedsReview bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParsedItems filters out system-generated lines; this is the view the
// reconciliation calculator runs against.
func ParsedItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, li := range items {
		if li.SystemGenerated() {
			continue
		}
		out = append(out, li)
	}
	return out
}

// AggregateHeaders recomputes receipt-level subtotal, tax and total from
// the current item set. A zero tax sum maps to an absent header tax.
func AggregateHeaders(items []LineItem) (subtotal float64, tax *float64, total float64) {
	var taxSum float64
	for _, li := range items {
		subtotal += li.LineSubtotal
		taxSum += li.LineTax
		total += li.LineTotal
	}
	subtotal = money.Round2(subtotal)
	total = money.Round2(total)
	taxSum = money.Round2(taxSum)
	if taxSum != 0 {
		tax = &taxSum
	}
	return subtotal, tax, total
}
