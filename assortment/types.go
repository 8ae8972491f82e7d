/*
Package assortment provides the GRN-to-packet allocation engine.

PURPOSE:
  A Goods Receipt Note (GRN) records raw carats received against a purchase
  order. Assortment splits those carats across diamond packets, each packet
  carrying one shape/color/clarity classification. This package holds the
  session state a user builds up while assorting one GRN, derives the
  allocation rows sent to the backend, and orchestrates the submission.

KEY CONCEPTS IN THIS FILE (types.go):
  - GrnLineItem: one received line with its un-assorted remaining carats
  - PacketTarget: a destination packet, either existing or a new draft
  - Row: one submission-ready allocation (grn item -> packet, carats)
  - Warehouse / Grn / Packet: records read from the backend

DESIGN PRINCIPLES:
  1. Precision: carats are decimal.Decimal, never float64
  2. Immutability: Session values are replaced, never mutated in place
  3. Thin client: authoritative quantities live in the backend ledger

USAGE:
  ctrl := assortment.NewController(backend, logger)
  ctrl.SelectWarehouse("wh-1")
  ctrl.SelectGrn(ctx, "grn-7")
  id := ctrl.AddNewTarget()
  ctrl.SetAttribute(id, assortment.AttrShape, "Round")
  ctrl.SetAllocation(id, "item-1", "6")

SEE ALSO:
  - session.go: Immutable session state
  - payload.go: Row builder and pre-submission gate
  - controller.go: Code generation and submission orchestration
*/
package assortment

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BACKEND RECORDS
// =============================================================================

type Warehouse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Grn is a goods receipt note. PurchaseOrderID is empty when the GRN was
// received without a purchase order.
type Grn struct {
	ID              string `json:"id"`
	GrnNumber       string `json:"grn_number"`
	WarehouseID     string `json:"warehouse_id,omitempty"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
}

// GrnLineItem is a received line and its carats still available for assortment.
// The engine never changes RemainingQty; it is refreshed from the backend.
type GrnLineItem struct {
	ID           string          `json:"id"`
	GrnID        string          `json:"grn_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	ReceivedQty  decimal.Decimal `json:"received_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
}

// Packet is a persisted diamond packet.
type Packet struct {
	ID              string          `json:"id"`
	PacketCode      string          `json:"packet_code"`
	WarehouseID     string          `json:"warehouse_id,omitempty"`
	PurchaseOrderID string          `json:"purchase_order_id,omitempty"`
	Shape           string          `json:"shape,omitempty"`
	Color           string          `json:"color,omitempty"`
	Clarity         string          `json:"clarity,omitempty"`
	Stage           string          `json:"stage,omitempty"`
	Carats          decimal.Decimal `json:"carats"`
}

type PacketFilter struct {
	WarehouseID     string
	PurchaseOrderID string
}

// =============================================================================
// PACKET TARGETS
// =============================================================================

type TargetID string

type Mode string

const (
	ModeExisting Mode = "existing"
	ModeNew      Mode = "new"
)

// DefaultStage is the stage given to new packet drafts.
const DefaultStage = "sorted"

// Attribute keys accepted by SetAttribute.
const (
	AttrShape   = "shape"
	AttrColor   = "color"
	AttrClarity = "clarity"
	AttrStage   = "stage"
)

// Attributes is the classification of a packet.
type Attributes struct {
	Shape   string `json:"shape"`
	Color   string `json:"color"`
	Clarity string `json:"clarity"`
}

// Complete reports whether shape, color and clarity are all set.
func (a Attributes) Complete() bool {
	return strings.TrimSpace(a.Shape) != "" &&
		strings.TrimSpace(a.Color) != "" &&
		strings.TrimSpace(a.Clarity) != ""
}

// Cell is one allocation entry as typed by the user. Value is kept raw so that
// non-numeric input can exist until the payload is built.
type Cell struct {
	LineItemID string `json:"grn_item_id"`
	Value      string `json:"carats"`
}

// PacketTarget is a destination packet being assembled in a session.
type PacketTarget struct {
	ID   TargetID
	Mode Mode

	// Existing mode
	PacketID string

	// Both modes. Empty for new targets until a code has been generated.
	PacketCode string

	// New mode drafts
	Shape   string
	Color   string
	Clarity string
	Stage   string

	cells []Cell
}

func (t PacketTarget) Attributes() Attributes {
	return Attributes{Shape: t.Shape, Color: t.Color, Clarity: t.Clarity}
}

// Cells returns the allocation cells in insertion order.
func (t PacketTarget) Cells() []Cell {
	out := make([]Cell, len(t.cells))
	copy(out, t.cells)
	return out
}

// Allocation returns the raw entry for a line item, or "" when untouched.
func (t PacketTarget) Allocation(lineItemID string) string {
	for _, c := range t.cells {
		if c.LineItemID == lineItemID {
			return c.Value
		}
	}
	return ""
}

// Total sums the cells that would survive payload building.
func (t PacketTarget) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range t.cells {
		if v, ok := ParseCarats(c.Value); ok {
			total = total.Add(v)
		}
	}
	return total
}

func (t PacketTarget) clone() PacketTarget {
	t.cells = t.Cells()
	return t
}

// ParseCarats parses a cell entry. ok is false for empty, non-numeric, zero or
// negative input, and for values outside the float64 range: they overflow to
// infinity or underflow to zero when read as a number.
func ParseCarats(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() || !finite(v) {
		return decimal.Zero, false
	}
	return v, true
}

// finite reports whether v is a non-zero finite float64. The order of
// magnitude is checked first so huge exponents are never expanded.
func finite(v decimal.Decimal) bool {
	order := int64(len(v.Coefficient().String())) + int64(v.Exponent())
	if order > 310 || order < -324 {
		return false
	}
	f, _ := v.Float64()
	return f != 0 && !math.IsInf(f, 0)
}

// =============================================================================
// ROW - Submission-ready allocation
// =============================================================================

// Row is one allocation sent to the backend. Exactly one destination is set:
// PacketID for an existing packet, or CreateNewPacket with PacketCode and
// Attributes for a new one.
type Row struct {
	GrnItemID       string          `json:"grn_item_id"`
	Carats          decimal.Decimal `json:"carats"`
	PacketID        string          `json:"packet_id,omitempty"`
	CreateNewPacket bool            `json:"create_new_packet,omitempty"`
	PacketCode      string          `json:"packet_code,omitempty"`
	Attributes      *Attributes     `json:"attributes,omitempty"`
}

// MarshalJSON writes carats as a JSON number.
func (r Row) MarshalJSON() ([]byte, error) {
	type wire Row
	return json.Marshal(struct {
		wire
		Carats json.Number `json:"carats"`
	}{wire: wire(r), Carats: json.Number(r.Carats.String())})
}

// AssortRequest is the body of an assortment submission.
type AssortRequest struct {
	GrnID       string `json:"grn_id"`
	WarehouseID string `json:"warehouse_id"`
	Allocations []Row  `json:"allocations"`
}
