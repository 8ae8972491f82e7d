/*
payload.go - Allocation row builder and pre-submission gate

PURPOSE:
  Turns a Session into the rows sent to the backend, and decides whether
  a submission may go out at all.

ROW FILTER (BuildPayload):
  For each (target, line item, carats) cell, in target order then cell order:
  1. Drop the cell if carats is not a number or is <= 0
  2. Drop the cell if the target is new and has no packet code
  3. Emit {grn_item_id, carats, packet_id} for existing targets, or
     {grn_item_id, carats, create_new_packet, packet_code, attributes}

GATE (Gate):
  Runs before the payload is sent. Any target with a positive total that is
  a new packet without a code or without shape/color/clarity fails the whole
  submission. Without the gate those rows would vanish silently in step 2.

CROSS-TARGET TOTALS:
  Nothing here checks that the targets together stay within a line's
  remaining quantity. The backend enforces conservation; see ledger.go for
  the advisory report.

SEE ALSO:
  - controller.go: Calls Validate before submitting
  - ledger.go: Over-allocation report
*/
package assortment

import "github.com/shopspring/decimal"

// BuildPayload derives the allocation rows from a session. It is pure:
// the same session always yields the same rows.
func BuildPayload(s Session) []Row {
	rows := []Row{}
	for _, t := range s.targets {
		if t.Mode == ModeNew && t.PacketCode == "" {
			continue
		}
		for _, c := range t.cells {
			carats, ok := ParseCarats(c.Value)
			if !ok {
				continue
			}
			rows = append(rows, rowFor(t, c.LineItemID, carats))
		}
	}
	return rows
}

func rowFor(t PacketTarget, lineItemID string, carats decimal.Decimal) Row {
	row := Row{GrnItemID: lineItemID, Carats: carats}
	if t.Mode == ModeExisting {
		row.PacketID = t.PacketID
		return row
	}
	attrs := t.Attributes()
	row.CreateNewPacket = true
	row.PacketCode = t.PacketCode
	row.Attributes = &attrs
	return row
}

// Gate checks every target that carries carats. It returns a
// *TargetIncompleteError for the first new target missing its packet code
// or classification.
//
// A target carries carats when the sum of its valid cells is positive.
// Invalid cells (negative, zero, non-numeric) count as nothing rather than
// being netted, so +5 and -5 on one draft still require a code.
func Gate(s Session) error {
	for _, t := range s.targets {
		if t.Mode != ModeNew || !t.Total().IsPositive() {
			continue
		}
		if t.PacketCode == "" {
			return &TargetIncompleteError{TargetID: t.ID, Missing: ErrPacketCodeRequired}
		}
		if !t.Attributes().Complete() {
			return &TargetIncompleteError{TargetID: t.ID, Missing: ErrAttributesRequired}
		}
	}
	return nil
}

// Validate runs every pre-submission check and returns the rows to send.
func Validate(s Session) ([]Row, error) {
	if s.warehouseID == "" {
		return nil, ErrWarehouseRequired
	}
	if s.grn == nil {
		return nil, ErrGrnRequired
	}
	if err := Gate(s); err != nil {
		return nil, err
	}
	rows := BuildPayload(s)
	if len(rows) == 0 {
		return nil, ErrNoValidAllocations
	}
	return rows, nil
}
