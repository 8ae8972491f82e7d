/*
ledger.go - Remaining-quantity view over GRN line items

PURPOSE:
  The backend ledger owns each line item's remaining carats. The engine
  only reads them. This file compares allocations against those balances:

  - Overallocated: advisory report for the session view. Never blocks a
    submission; the client stays thin and the backend decides.
  - CheckRemaining: the conservation check backends run before writing.
    All-or-nothing: one over-allocated line rejects the whole request.

EXAMPLE:
  Line remaining 10, two targets each allocate 7:
    Overallocated -> [{LineItemID, Remaining: 10, Allocated: 14, Excess: 4}]
    CheckRemaining -> *BackendError wrapping ErrExceedsRemaining

SEE ALSO:
  - payload.go: Builds the rows being checked
  - store/memory.go, ../store/sqlite: Backends calling CheckRemaining
*/
package assortment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Overallocation describes a line item whose allocations exceed what remains.
type Overallocation struct {
	LineItemID string          `json:"grn_item_id"`
	Remaining  decimal.Decimal `json:"remaining_qty"`
	Allocated  decimal.Decimal `json:"allocated"`
	Excess     decimal.Decimal `json:"excess"`
}

// LineTotals sums row carats per GRN line item.
func LineTotals(rows []Row) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		totals[r.GrnItemID] = totals[r.GrnItemID].Add(r.Carats)
	}
	return totals
}

// AllocatedByLine sums every valid cell in the session per line item,
// including cells of targets that are not yet submittable.
func AllocatedByLine(s Session) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, t := range s.targets {
		for _, c := range t.cells {
			if v, ok := ParseCarats(c.Value); ok {
				totals[c.LineItemID] = totals[c.LineItemID].Add(v)
			}
		}
	}
	return totals
}

// Overallocated lists loaded line items whose summed allocations exceed their
// remaining quantity, in line item order.
func Overallocated(s Session) []Overallocation {
	totals := AllocatedByLine(s)
	var out []Overallocation
	for _, it := range s.items {
		allocated, ok := totals[it.ID]
		if !ok || !allocated.GreaterThan(it.RemainingQty) {
			continue
		}
		out = append(out, Overallocation{
			LineItemID: it.ID,
			Remaining:  it.RemainingQty,
			Allocated:  allocated,
			Excess:     allocated.Sub(it.RemainingQty),
		})
	}
	return out
}

// CheckRemaining verifies that rows stay within the remaining quantities of
// items. Rows must reference items of the same GRN.
func CheckRemaining(items []GrnLineItem, rows []Row) error {
	remaining := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		remaining[it.ID] = it.RemainingQty
	}

	for _, r := range rows {
		if _, ok := remaining[r.GrnItemID]; !ok {
			return &BackendError{
				Message: fmt.Sprintf("GRN item %s does not belong to this GRN", r.GrnItemID),
				Err:     ErrLineItemNotFound,
			}
		}
		if !r.Carats.IsPositive() {
			return &BackendError{
				Message: fmt.Sprintf("carats for GRN item %s must be greater than zero", r.GrnItemID),
			}
		}
		if !finite(r.Carats) {
			return &BackendError{
				Message: fmt.Sprintf("carats for GRN item %s are out of range", r.GrnItemID),
			}
		}
	}

	totals := LineTotals(rows)
	for _, it := range items {
		total, ok := totals[it.ID]
		if ok && total.GreaterThan(it.RemainingQty) {
			return &BackendError{
				Message: fmt.Sprintf("allocated %s ct exceeds remaining %s ct for GRN item %s",
					total.String(), it.RemainingQty.String(), it.ID),
				Err: ErrExceedsRemaining,
			}
		}
	}
	return nil
}
