// Package store provides Backend implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gemvault/assortment-engine/assortment"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	warehouses []assortment.Warehouse
	grns       []assortment.Grn
	items      map[string][]assortment.GrnLineItem // by GRN ID
	packets    []assortment.Packet
	sequences  map[string]int // by code prefix
	codes      map[string]bool

	// Assortments records every accepted request, oldest first.
	assortments []assortment.AssortRequest

	// FailNext, when set, is returned by the next call to AssortGrnToPackets.
	FailNext error
}

func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string][]assortment.GrnLineItem),
		sequences: make(map[string]int),
		codes:     make(map[string]bool),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) AddWarehouse(w assortment.Warehouse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses = append(m.warehouses, w)
}

// AddGrn registers a GRN with its line items. RemainingQty is taken as given.
func (m *Memory) AddGrn(g assortment.Grn, items ...assortment.GrnLineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grns = append(m.grns, g)
	for _, it := range items {
		it.GrnID = g.ID
		m.items[g.ID] = append(m.items[g.ID], it)
	}
}

func (m *Memory) AddPacket(p assortment.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, p)
	m.codes[p.PacketCode] = true
}

// Assortments returns the accepted requests.
func (m *Memory) Assortments() []assortment.AssortRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]assortment.AssortRequest, len(m.assortments))
	copy(out, m.assortments)
	return out
}

// Packet looks a packet up by code.
func (m *Memory) Packet(code string) (assortment.Packet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.packets {
		if p.PacketCode == code {
			return p, true
		}
	}
	return assortment.Packet{}, false
}

// =============================================================================
// BACKEND
// =============================================================================

func (m *Memory) ListWarehouses(_ context.Context) ([]assortment.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]assortment.Warehouse, len(m.warehouses))
	copy(out, m.warehouses)
	return out, nil
}

func (m *Memory) ListGrns(_ context.Context, warehouseID string) ([]assortment.Grn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []assortment.Grn
	for _, g := range m.grns {
		if warehouseID == "" || g.WarehouseID == warehouseID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) GrnItemsWithRemainingQty(_ context.Context, grnID string) ([]assortment.GrnLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.grnLocked(grnID); !ok {
		return nil, assortment.ErrGrnNotFound
	}
	out := make([]assortment.GrnLineItem, len(m.items[grnID]))
	copy(out, m.items[grnID])
	return out, nil
}

func (m *Memory) ListPackets(_ context.Context, f assortment.PacketFilter) ([]assortment.Packet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []assortment.Packet
	for _, p := range m.packets {
		if f.WarehouseID != "" && p.WarehouseID != f.WarehouseID {
			continue
		}
		if f.PurchaseOrderID != "" && p.PurchaseOrderID != f.PurchaseOrderID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PacketCode < out[j].PacketCode })
	return out, nil
}

func (m *Memory) GeneratePacketCode(_ context.Context, attrs assortment.Attributes) (string, error) {
	if !attrs.Complete() {
		return "", &assortment.BackendError{Message: assortment.ErrAttributesRequired.Error(), Err: assortment.ErrAttributesRequired}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := assortment.CodePrefix(attrs)
	for {
		m.sequences[prefix]++
		code := assortment.FormatPacketCode(prefix, m.sequences[prefix])
		if !m.codes[code] {
			m.codes[code] = true
			return code, nil
		}
	}
}

// AssortGrnToPackets checks every row, then applies all of them.
func (m *Memory) AssortGrnToPackets(_ context.Context, req assortment.AssortRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}

	grn, ok := m.grnLocked(req.GrnID)
	if !ok {
		return &assortment.BackendError{Message: "GRN not found", Err: assortment.ErrGrnNotFound}
	}
	if len(req.Allocations) == 0 {
		return &assortment.BackendError{Message: "no allocations", Err: assortment.ErrNoValidAllocations}
	}
	if err := assortment.CheckRemaining(m.items[grn.ID], req.Allocations); err != nil {
		return err
	}
	for _, r := range req.Allocations {
		if err := m.checkDestinationLocked(r, grn); err != nil {
			return err
		}
	}

	// Apply (nothing above wrote)
	totals := assortment.LineTotals(req.Allocations)
	items := m.items[grn.ID]
	for i := range items {
		if t, ok := totals[items[i].ID]; ok {
			items[i].RemainingQty = items[i].RemainingQty.Sub(t)
		}
	}
	for _, r := range req.Allocations {
		m.creditPacketLocked(r, grn, req.WarehouseID)
	}
	m.assortments = append(m.assortments, req)
	return nil
}

func (m *Memory) grnLocked(id string) (assortment.Grn, bool) {
	for _, g := range m.grns {
		if g.ID == id {
			return g, true
		}
	}
	return assortment.Grn{}, false
}

func (m *Memory) checkDestinationLocked(r assortment.Row, grn assortment.Grn) error {
	if r.CreateNewPacket {
		if r.PacketCode == "" || r.Attributes == nil || !r.Attributes.Complete() {
			return &assortment.BackendError{
				Message: "new packets need a packet code and shape, color and clarity",
				Err:     assortment.ErrAttributesRequired,
			}
		}
		for _, p := range m.packets {
			if p.PacketCode == r.PacketCode {
				return &assortment.BackendError{Message: fmt.Sprintf("packet code %s already exists", r.PacketCode)}
			}
		}
		return nil
	}
	for _, p := range m.packets {
		if p.ID == r.PacketID {
			if grn.PurchaseOrderID != "" && p.PurchaseOrderID != grn.PurchaseOrderID {
				return &assortment.BackendError{Message: fmt.Sprintf("packet %s belongs to another purchase order", p.PacketCode)}
			}
			return nil
		}
	}
	return &assortment.BackendError{Message: fmt.Sprintf("packet %s not found", r.PacketID), Err: assortment.ErrPacketNotFound}
}

func (m *Memory) creditPacketLocked(r assortment.Row, grn assortment.Grn, warehouseID string) {
	for i := range m.packets {
		p := &m.packets[i]
		if (r.CreateNewPacket && p.PacketCode == r.PacketCode) || (!r.CreateNewPacket && p.ID == r.PacketID) {
			p.Carats = p.Carats.Add(r.Carats)
			return
		}
	}
	m.packets = append(m.packets, assortment.Packet{
		ID:              uuid.NewString(),
		PacketCode:      r.PacketCode,
		WarehouseID:     warehouseID,
		PurchaseOrderID: grn.PurchaseOrderID,
		Shape:           r.Attributes.Shape,
		Color:           r.Attributes.Color,
		Clarity:         r.Attributes.Clarity,
		Stage:           assortment.DefaultStage,
		Carats:          decimal.Zero.Add(r.Carats),
	})
	m.codes[r.PacketCode] = true
}

var _ assortment.Backend = (*Memory)(nil)
