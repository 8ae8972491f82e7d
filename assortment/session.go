/*
session.go - Immutable assortment session state

PURPOSE:
  A Session is everything one user has built up while assorting a GRN:
  the selected warehouse and GRN, the GRN's line items, the packets eligible
  as existing targets, and the packet targets with their allocation cells.

IMMUTABILITY:
  Every method returns a new Session. The receiver is never modified, so a
  Session handed to BuildPayload or Gate cannot change underneath it.

    s2, id := s.AddNewTarget()
    s3, err := s2.SetAllocation(id, "item-1", "6")
    // s and s2 are unchanged

LIFECYCLE:
  - SelectGrn discards items, packets and targets, and bumps Generation
  - WithLineItems / WithPackets accept backend results only for the
    generation they were requested for
  - Reset clears the GRN after a successful submission

SEE ALSO:
  - controller.go: Owns the current Session and replaces it on each change
  - payload.go: Pure functions over a Session
*/
package assortment

import (
	"github.com/google/uuid"
)

// Session is an immutable snapshot of an assortment session.
type Session struct {
	warehouseID string
	grn         *Grn
	generation  uint64

	items   []GrnLineItem
	packets []Packet
	targets []PacketTarget
}

// NewSession returns an empty session.
func NewSession() Session {
	return Session{}
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (s Session) WarehouseID() string { return s.warehouseID }

// Grn returns the selected GRN.
func (s Session) Grn() (Grn, bool) {
	if s.grn == nil {
		return Grn{}, false
	}
	return *s.grn, true
}

func (s Session) GrnID() string {
	if s.grn == nil {
		return ""
	}
	return s.grn.ID
}

// PurchaseOrderID is the purchase order resolved from the selected GRN.
func (s Session) PurchaseOrderID() string {
	if s.grn == nil {
		return ""
	}
	return s.grn.PurchaseOrderID
}

// Generation changes every time the GRN selection changes.
func (s Session) Generation() uint64 { return s.generation }

func (s Session) LineItems() []GrnLineItem {
	out := make([]GrnLineItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s Session) LineItem(id string) (GrnLineItem, bool) {
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return GrnLineItem{}, false
}

// EligiblePackets are the existing packets of the GRN's purchase order.
func (s Session) EligiblePackets() []Packet {
	out := make([]Packet, len(s.packets))
	copy(out, s.packets)
	return out
}

func (s Session) EligiblePacket(id string) (Packet, bool) {
	for _, p := range s.packets {
		if p.ID == id {
			return p, true
		}
	}
	return Packet{}, false
}

func (s Session) Targets() []PacketTarget {
	out := make([]PacketTarget, len(s.targets))
	for i, t := range s.targets {
		out[i] = t.clone()
	}
	return out
}

func (s Session) Target(id TargetID) (PacketTarget, bool) {
	i := s.targetIndex(id)
	if i < 0 {
		return PacketTarget{}, false
	}
	return s.targets[i].clone(), true
}

func (s Session) targetIndex(id TargetID) int {
	for i, t := range s.targets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// SELECTION
// =============================================================================

// SelectWarehouse changes the warehouse. The GRN belongs to a warehouse, so
// any GRN selection and its state is dropped as well.
func (s Session) SelectWarehouse(warehouseID string) Session {
	if warehouseID == s.warehouseID {
		return s
	}
	return Session{warehouseID: warehouseID, generation: s.generation + 1}
}

// SelectGrn changes the selected GRN and discards line items, eligible
// packets, targets and allocations.
func (s Session) SelectGrn(grn Grn) Session {
	g := grn
	return Session{
		warehouseID: s.warehouseID,
		grn:         &g,
		generation:  s.generation + 1,
	}
}

// WithLineItems installs line items loaded for generation gen.
func (s Session) WithLineItems(gen uint64, items []GrnLineItem) (Session, error) {
	if gen != s.generation {
		return s, ErrStaleResponse
	}
	next := s
	next.items = make([]GrnLineItem, len(items))
	copy(next.items, items)
	return next, nil
}

// WithPackets installs the eligible packets loaded for generation gen.
func (s Session) WithPackets(gen uint64, packets []Packet) (Session, error) {
	if gen != s.generation {
		return s, ErrStaleResponse
	}
	next := s
	next.packets = make([]Packet, len(packets))
	copy(next.packets, packets)
	return next, nil
}

// Reset clears the GRN, its items and all targets. The warehouse is kept.
func (s Session) Reset() Session {
	return Session{warehouseID: s.warehouseID, generation: s.generation + 1}
}

// =============================================================================
// PACKET TARGET REGISTRY
// =============================================================================

// AddNewTarget appends an empty new-packet draft.
func (s Session) AddNewTarget() (Session, TargetID) {
	id := TargetID(uuid.NewString())
	next := s.withTargets()
	next.targets = append(next.targets, PacketTarget{
		ID:    id,
		Mode:  ModeNew,
		Stage: DefaultStage,
	})
	return next, id
}

// AddExistingTarget appends a target bound to an existing packet. It is a
// no-op, reporting false, when the GRN has no purchase order.
func (s Session) AddExistingTarget(p Packet) (Session, TargetID, bool) {
	if s.PurchaseOrderID() == "" {
		return s, "", false
	}
	id := TargetID(uuid.NewString())
	next := s.withTargets()
	next.targets = append(next.targets, PacketTarget{
		ID:         id,
		Mode:       ModeExisting,
		PacketID:   p.ID,
		PacketCode: p.PacketCode,
		Shape:      p.Shape,
		Color:      p.Color,
		Clarity:    p.Clarity,
		Stage:      p.Stage,
	})
	return next, id, true
}

// SetAttribute changes one classification attribute of a new target.
// Existing targets and unknown keys are left unchanged.
func (s Session) SetAttribute(id TargetID, key, value string) (Session, error) {
	i := s.targetIndex(id)
	if i < 0 {
		return s, ErrTargetNotFound
	}
	if s.targets[i].Mode != ModeNew {
		return s, nil
	}

	t := s.targets[i].clone()
	switch key {
	case AttrShape:
		t.Shape = value
	case AttrColor:
		t.Color = value
	case AttrClarity:
		t.Clarity = value
	case AttrStage:
		t.Stage = value
	default:
		return s, nil
	}
	return s.replaceTarget(i, t), nil
}

// SetPacketCode records the code returned by the gateway for a new target.
func (s Session) SetPacketCode(id TargetID, code string) (Session, error) {
	i := s.targetIndex(id)
	if i < 0 {
		return s, ErrTargetNotFound
	}
	if s.targets[i].Mode != ModeNew {
		return s, ErrTargetNotNew
	}
	t := s.targets[i].clone()
	t.PacketCode = code
	return s.replaceTarget(i, t), nil
}

// =============================================================================
// ALLOCATION MATRIX
// =============================================================================

// SetAllocation overwrites one cell. The value is not validated here; bad
// entries are dropped when the payload is built.
func (s Session) SetAllocation(id TargetID, lineItemID, carats string) (Session, error) {
	i := s.targetIndex(id)
	if i < 0 {
		return s, ErrTargetNotFound
	}
	if _, ok := s.LineItem(lineItemID); !ok {
		return s, ErrLineItemNotFound
	}

	t := s.targets[i].clone()
	updated := false
	for j := range t.cells {
		if t.cells[j].LineItemID == lineItemID {
			t.cells[j].Value = carats
			updated = true
			break
		}
	}
	if !updated {
		t.cells = append(t.cells, Cell{LineItemID: lineItemID, Value: carats})
	}
	return s.replaceTarget(i, t), nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================
// Slices are shared between sessions until a method needs to change one;
// targets are copied before any write.

func (s Session) withTargets() Session {
	next := s
	next.targets = make([]PacketTarget, len(s.targets), len(s.targets)+1)
	copy(next.targets, s.targets)
	return next
}

func (s Session) replaceTarget(i int, t PacketTarget) Session {
	next := s.withTargets()
	next.targets[i] = t
	return next
}
