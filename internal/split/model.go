// Package split allocates a receipt's cost across participants who have
// claimed fractional shares of individual items, and freezes the result
// into an immutable snapshot behind a shareable code.
package split

import "time"

// Participant belongs to one split session. Position is the stable sort
// order used for output ordering and remainder tie-breaking.
type Participant struct {
	ID          string
	SessionID   string
	DisplayName string
	Position    int
}

// Claim is a participant's fractional share of one item's quantity.
// Several claims may target the same item; the caller rejects claim sets
// whose per-item sum exceeds the item quantity before they reach the
// calculator.
type Claim struct {
	ItemID        string
	ParticipantID string
	Quantity      float64
}

// Allocation is one participant's share of the receipt. ItemsSubtotal is
// post-pool (the discount/surcharge share is folded in as well as reported
// separately in Discount). Total is the cent-rounded amount owed.
type Allocation struct {
	ParticipantID string
	DisplayName   string
	Position      int
	ItemsSubtotal float64
	Discount      float64
	Tax           float64
	Tip           float64
	Total         float64
}

// UnclaimedItem reports quantity left unclaimed on an item. Reporting only;
// the cost of unclaimed quantity is folded into the rounding remainder.
type UnclaimedItem struct {
	ItemID      string
	Description string
	Quantity    float64
}

// Preview is the full allocation result. Allocations are ordered by
// participant position and their totals sum exactly to
// round2(Subtotal+Tax+Tip).
type Preview struct {
	Subtotal          float64
	Tax               float64
	Tip               float64
	Total             float64
	Allocations       []Allocation
	Unclaimed         []UnclaimedItem
	RoundingRemainder float64
}

// Session is a split over one receipt. Once finalized it points at an
// immutable snapshot via the share code.
type Session struct {
	ID          string
	ReceiptID   string
	ShareCode   string
	Finalized   bool
	FinalizedAt *time.Time
	CreatedAt   time.Time
}

// SnapshotRow is one persisted participant allocation of a finalized split.
type SnapshotRow struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Position      int
	ItemsSubtotal float64
	Discount      float64
	Tax           float64
	Tip           float64
	Total         float64
}
