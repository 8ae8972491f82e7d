package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemvault/assortment-engine/assortment"
	"github.com/gemvault/assortment-engine/assortment/store"
)

func seeded() *store.Memory {
	m := store.NewMemory()
	m.AddWarehouse(assortment.Warehouse{ID: "wh-1", Name: "Main Vault"})
	m.AddGrn(assortment.Grn{ID: "grn-1", WarehouseID: "wh-1", PurchaseOrderID: "po-1"},
		assortment.GrnLineItem{ID: "item-1", ReceivedQty: decimal.NewFromInt(10), RemainingQty: decimal.NewFromInt(10)})
	m.AddPacket(assortment.Packet{ID: "P1", PacketCode: "RD-D-VS1-001", WarehouseID: "wh-1", PurchaseOrderID: "po-1"})
	return m
}

func TestMemory_GeneratePacketCode_SkipsTakenCodes(t *testing.T) {
	m := seeded()
	ctx := context.Background()
	attrs := assortment.Attributes{Shape: "Round", Color: "D", Clarity: "VS1"}

	first, err := m.GeneratePacketCode(ctx, attrs)
	require.NoError(t, err)
	second, err := m.GeneratePacketCode(ctx, attrs)
	require.NoError(t, err)

	assert.Equal(t, "RD-D-VS1-002", first)
	assert.Equal(t, "RD-D-VS1-003", second)

	_, err = m.GeneratePacketCode(ctx, assortment.Attributes{Shape: "Round"})
	assert.ErrorIs(t, err, assortment.ErrAttributesRequired)
}

func TestMemory_Assort_AtomicOnFailure(t *testing.T) {
	// GIVEN: One good row and one pointing at an unknown packet
	m := seeded()
	ctx := context.Background()
	req := assortment.AssortRequest{GrnID: "grn-1", WarehouseID: "wh-1", Allocations: []assortment.Row{
		{GrnItemID: "item-1", Carats: decimal.NewFromInt(2), PacketID: "P1"},
		{GrnItemID: "item-1", Carats: decimal.NewFromInt(2), PacketID: "P404"},
	}}

	// WHEN: Submitting
	err := m.AssortGrnToPackets(ctx, req)

	// THEN: Rejected, nothing applied
	assert.ErrorIs(t, err, assortment.ErrPacketNotFound)
	items, _ := m.GrnItemsWithRemainingQty(ctx, "grn-1")
	assert.True(t, items[0].RemainingQty.Equal(decimal.NewFromInt(10)))
	p, _ := m.Packet("RD-D-VS1-001")
	assert.True(t, p.Carats.IsZero())
	assert.Empty(t, m.Assortments())
}

func TestMemory_Assort_NewPacketAcrossLines(t *testing.T) {
	m := seeded()
	ctx := context.Background()
	m.AddGrn(assortment.Grn{ID: "grn-2", WarehouseID: "wh-1"},
		assortment.GrnLineItem{ID: "a", ReceivedQty: decimal.NewFromInt(3), RemainingQty: decimal.NewFromInt(3)},
		assortment.GrnLineItem{ID: "b", ReceivedQty: decimal.NewFromInt(3), RemainingQty: decimal.NewFromInt(3)})
	attrs := &assortment.Attributes{Shape: "Oval", Color: "E", Clarity: "VS2"}

	err := m.AssortGrnToPackets(ctx, assortment.AssortRequest{GrnID: "grn-2", WarehouseID: "wh-1", Allocations: []assortment.Row{
		{GrnItemID: "a", Carats: decimal.NewFromInt(1), CreateNewPacket: true, PacketCode: "OV-E-VS2-001", Attributes: attrs},
		{GrnItemID: "b", Carats: decimal.NewFromInt(2), CreateNewPacket: true, PacketCode: "OV-E-VS2-001", Attributes: attrs},
	}})
	require.NoError(t, err)

	p, ok := m.Packet("OV-E-VS2-001")
	require.True(t, ok)
	assert.True(t, p.Carats.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, assortment.DefaultStage, p.Stage)

	packets, err := m.ListPackets(ctx, assortment.PacketFilter{WarehouseID: "wh-1"})
	require.NoError(t, err)
	assert.Len(t, packets, 2)
}

func TestMemory_GrnItems_UnknownGrn(t *testing.T) {
	_, err := seeded().GrnItemsWithRemainingQty(context.Background(), "nope")
	assert.ErrorIs(t, err, assortment.ErrGrnNotFound)
}

func TestMemory_Assort_NewPacketWithTakenCode_Rejected(t *testing.T) {
	// GIVEN: EM-F-IF-001 belongs to another warehouse and purchase order
	m := seeded()
	ctx := context.Background()
	m.AddPacket(assortment.Packet{ID: "P9", PacketCode: "EM-F-IF-001", WarehouseID: "wh-2", PurchaseOrderID: "po-9",
		Shape: "Emerald", Color: "F", Clarity: "IF", Carats: decimal.NewFromInt(1)})

	// WHEN: A new-packet row reuses that code
	err := m.AssortGrnToPackets(ctx, assortment.AssortRequest{GrnID: "grn-1", WarehouseID: "wh-1", Allocations: []assortment.Row{
		{GrnItemID: "item-1", Carats: decimal.NewFromInt(4), CreateNewPacket: true, PacketCode: "EM-F-IF-001",
			Attributes: &assortment.Attributes{Shape: "Round", Color: "D", Clarity: "VS1"}},
	}})

	// THEN: Rejected and the foreign packet is untouched
	var be *assortment.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "packet code EM-F-IF-001 already exists", be.Message)
	p, _ := m.Packet("EM-F-IF-001")
	assert.True(t, p.Carats.Equal(decimal.NewFromInt(1)))
	items, _ := m.GrnItemsWithRemainingQty(ctx, "grn-1")
	assert.True(t, items[0].RemainingQty.Equal(decimal.NewFromInt(10)))
	assert.Empty(t, m.Assortments())
}

func TestMemory_AddGrn_KeepsZeroRemaining(t *testing.T) {
	// GIVEN: A fully assorted line
	m := seeded()
	ctx := context.Background()
	m.AddGrn(assortment.Grn{ID: "grn-3", WarehouseID: "wh-1"},
		assortment.GrnLineItem{ID: "done", ReceivedQty: decimal.NewFromInt(5), RemainingQty: decimal.Zero})

	// THEN: Nothing is left to allocate
	items, err := m.GrnItemsWithRemainingQty(ctx, "grn-3")
	require.NoError(t, err)
	assert.True(t, items[0].RemainingQty.IsZero())

	err = m.AssortGrnToPackets(ctx, assortment.AssortRequest{GrnID: "grn-3", WarehouseID: "wh-1", Allocations: []assortment.Row{
		{GrnItemID: "done", Carats: decimal.NewFromInt(1), PacketID: "P1"},
	}})
	assert.ErrorIs(t, err, assortment.ErrExceedsRemaining)
}
