package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gemvault/assortment-engine/assortment"
)

// SeedDemo loads a small demo data set: two warehouses, three GRNs (one
// without a purchase order) and a few packets already on those orders.
// It does nothing when the store already has warehouses.
func (s *Store) SeedDemo(ctx context.Context) error {
	existing, err := s.ListWarehouses(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	ct := decimal.RequireFromString

	warehouses := []assortment.Warehouse{
		{ID: "wh-mumbai", Name: "Mumbai Vault"},
		{ID: "wh-antwerp", Name: "Antwerp Office"},
	}
	for _, w := range warehouses {
		if err := s.SaveWarehouse(ctx, w); err != nil {
			return err
		}
	}

	grns := []struct {
		grn   assortment.Grn
		items []assortment.GrnLineItem
	}{
		{
			grn: assortment.Grn{ID: "grn-1001", GrnNumber: "GRN-1001", WarehouseID: "wh-mumbai", PurchaseOrderID: "po-501"},
			items: []assortment.GrnLineItem{
				{ID: "grn-1001-1", Description: "Rough rounds 0.30-0.50", ReceivedQty: ct("42.50"), RemainingQty: ct("42.50")},
				{ID: "grn-1001-2", Description: "Rough ovals mixed", ReceivedQty: ct("18.25"), RemainingQty: ct("18.25")},
			},
		},
		{
			grn: assortment.Grn{ID: "grn-1002", GrnNumber: "GRN-1002", WarehouseID: "wh-mumbai"},
			items: []assortment.GrnLineItem{
				{ID: "grn-1002-1", Description: "Memo return, pears", ReceivedQty: ct("6.10"), RemainingQty: ct("6.10")},
			},
		},
		{
			grn: assortment.Grn{ID: "grn-2001", GrnNumber: "GRN-2001", WarehouseID: "wh-antwerp", PurchaseOrderID: "po-777"},
			items: []assortment.GrnLineItem{
				{ID: "grn-2001-1", Description: "Princess cuts", ReceivedQty: ct("12"), RemainingQty: ct("12")},
			},
		},
	}
	for _, g := range grns {
		if err := s.SaveGrn(ctx, g.grn, g.items...); err != nil {
			return fmt.Errorf("failed to seed %s: %w", g.grn.GrnNumber, err)
		}
	}

	packets := []assortment.Packet{
		{PacketCode: "RD-D-VS1-001", WarehouseID: "wh-mumbai", PurchaseOrderID: "po-501",
			Shape: "Round", Color: "D", Clarity: "VS1", Stage: assortment.DefaultStage, Carats: ct("3.20")},
		{PacketCode: "OV-F-VVS2-001", WarehouseID: "wh-mumbai", PurchaseOrderID: "po-501",
			Shape: "Oval", Color: "F", Clarity: "VVS2", Stage: assortment.DefaultStage, Carats: ct("1.75")},
		{PacketCode: "PR-G-SI1-001", WarehouseID: "wh-antwerp", PurchaseOrderID: "po-777",
			Shape: "Princess", Color: "G", Clarity: "SI1", Stage: assortment.DefaultStage, Carats: ct("2")},
	}
	for _, p := range packets {
		if err := s.SavePacket(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
