package split

import (
	"sort"

	"github.com/patungan-id/backend-patungan/internal/money"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// Allocate distributes a receipt's cost across participants in proportion
// to their claimed item shares. It is pure: safe to call repeatedly to
// preview changes before finalizing.
//
// The returned allocations are ordered by stable participant position and
// their totals sum exactly, to the cent, to round2(subtotal+tax+tip).
// Cent residue from independent rounding, and the monetary value of any
// entirely unclaimed item quantity, is absorbed by the participant with the
// largest rounded total; ties go to the earliest position.
func Allocate(items []receipt.LineItem, printed receipt.Totals, participants []Participant, claims []Claim) Preview {
	ordered := make([]Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	allocs := make([]Allocation, len(ordered))
	index := make(map[string]int, len(ordered))
	for i, p := range ordered {
		allocs[i] = Allocation{ParticipantID: p.ID, DisplayName: p.DisplayName, Position: p.Position}
		index[p.ID] = i
	}

	claimedQty := make(map[string]float64, len(items))
	claimsByItem := make(map[string][]Claim, len(items))
	for _, c := range claims {
		if c.Quantity <= 0 {
			continue
		}
		if _, ok := index[c.ParticipantID]; !ok {
			continue
		}
		claimedQty[c.ItemID] += c.Quantity
		claimsByItem[c.ItemID] = append(claimsByItem[c.ItemID], c)
	}

	var lineSubtotalSum float64
	var unclaimed []UnclaimedItem
	for _, item := range items {
		lineSubtotalSum += item.LineSubtotal
		total := claimedQty[item.ID]
		if total > 0 {
			for _, c := range claimsByItem[item.ID] {
				share := money.Round4(item.LineSubtotal * c.Quantity / total)
				allocs[index[c.ParticipantID]].ItemsSubtotal += share
			}
		}
		if rest := money.Round3(item.Quantity - total); rest > 0 {
			unclaimed = append(unclaimed, UnclaimedItem{
				ItemID:      item.ID,
				Description: item.Description,
				Quantity:    rest,
			})
		}
	}

	subtotal := money.Round2(lineSubtotalSum)
	if printed.Subtotal != nil {
		subtotal = *printed.Subtotal
	}
	tax := deref(printed.Tax)
	tip := deref(printed.Tip)

	// Discount (or surcharge) pool: the gap between the declared subtotal
	// and the item math, spread over the claimed base.
	pool := money.Round2(subtotal - lineSubtotalSum)
	if pool != 0 {
		var base float64
		for i := range allocs {
			base += allocs[i].ItemsSubtotal
		}
		if base != 0 {
			for i := range allocs {
				share := money.Round4(pool * allocs[i].ItemsSubtotal / base)
				allocs[i].Discount = share
				allocs[i].ItemsSubtotal += share
			}
		}
	}

	var adjustedBase float64
	for i := range allocs {
		adjustedBase += allocs[i].ItemsSubtotal
	}
	if adjustedBase != 0 {
		for i := range allocs {
			ratio := allocs[i].ItemsSubtotal / adjustedBase
			allocs[i].Tax = money.Round4(tax * ratio)
			allocs[i].Tip = money.Round4(tip * ratio)
		}
	}

	for i := range allocs {
		exact := allocs[i].ItemsSubtotal + allocs[i].Tax + allocs[i].Tip
		allocs[i].Total = money.Round2(exact)
	}

	desired := money.Round2(subtotal + tax + tip)
	var roundedSum float64
	for i := range allocs {
		roundedSum += allocs[i].Total
	}
	remainder := money.Round2(desired - money.Round2(roundedSum))
	if remainder != 0 && len(allocs) > 0 {
		absorber := 0
		for i := 1; i < len(allocs); i++ {
			if allocs[i].Total > allocs[absorber].Total {
				absorber = i
			}
		}
		allocs[absorber].Total = money.Round2(allocs[absorber].Total + remainder)
	}

	var finalSum float64
	for i := range allocs {
		allocs[i].ItemsSubtotal = money.Round2(allocs[i].ItemsSubtotal)
		allocs[i].Discount = money.Round2(allocs[i].Discount)
		allocs[i].Tax = money.Round2(allocs[i].Tax)
		allocs[i].Tip = money.Round2(allocs[i].Tip)
		finalSum += allocs[i].Total
	}

	return Preview{
		Subtotal:          subtotal,
		Tax:               tax,
		Tip:               tip,
		Total:             desired,
		Allocations:       allocs,
		Unclaimed:         unclaimed,
		RoundingRemainder: money.Round2(desired - money.Round2(finalSum)),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
