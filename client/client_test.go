package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemvault/assortment-engine/api"
	"github.com/gemvault/assortment-engine/assortment"
	"github.com/gemvault/assortment-engine/assortment/store"
	"github.com/gemvault/assortment-engine/client"
)

func ct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// remote serves the collaborator endpoints over a seeded memory backend.
func remote(t *testing.T) (*client.Client, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddWarehouse(assortment.Warehouse{ID: "wh-1", Name: "Main"})
	mem.AddGrn(assortment.Grn{ID: "grn-1", GrnNumber: "GRN-0001", WarehouseID: "wh-1", PurchaseOrderID: "po-1"},
		assortment.GrnLineItem{ID: "item-1", ReceivedQty: ct("10"), RemainingQty: ct("10")},
		assortment.GrnLineItem{ID: "item-2", ReceivedQty: ct("4.5"), RemainingQty: ct("4.5")},
	)
	mem.AddPacket(assortment.Packet{ID: "P1", PacketCode: "OV-F-VVS2-001", WarehouseID: "wh-1", PurchaseOrderID: "po-1", Carats: ct("1")})

	logger, _ := test.NewNullLogger()
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(mem, logger), nil))
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/"), mem
}

func TestClient_Reads(t *testing.T) {
	ctx := context.Background()
	c, _ := remote(t)

	warehouses, err := c.ListWarehouses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []assortment.Warehouse{{ID: "wh-1", Name: "Main"}}, warehouses)

	grns, err := c.ListGrns(ctx, "wh-1")
	require.NoError(t, err)
	require.Len(t, grns, 1)
	assert.Equal(t, "po-1", grns[0].PurchaseOrderID)

	items, err := c.GrnItemsWithRemainingQty(ctx, "grn-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[1].RemainingQty.Equal(ct("4.5")))

	packets, err := c.ListPackets(ctx, assortment.PacketFilter{WarehouseID: "wh-1", PurchaseOrderID: "po-1"})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "P1", packets[0].ID)

	_, err = c.GrnItemsWithRemainingQty(ctx, "grn-404")
	assert.ErrorIs(t, err, assortment.ErrGrnNotFound)
}

func TestClient_GeneratePacketCode(t *testing.T) {
	c, _ := remote(t)

	code, err := c.GeneratePacketCode(context.Background(), assortment.Attributes{Shape: "Round", Color: "D", Clarity: "VS1"})
	require.NoError(t, err)
	assert.Equal(t, "RD-D-VS1-001", code)

	// Missing classification is rejected by request validation
	_, err = c.GeneratePacketCode(context.Background(), assortment.Attributes{Shape: "Round"})
	var be *assortment.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.StatusCode)
}

func TestClient_Assort_MessagePassedThrough(t *testing.T) {
	ctx := context.Background()
	c, mem := remote(t)

	// GIVEN: 14 ct requested from a 10 ct line
	err := c.AssortGrnToPackets(ctx, assortment.AssortRequest{
		GrnID:       "grn-1",
		WarehouseID: "wh-1",
		Allocations: []assortment.Row{
			{GrnItemID: "item-1", Carats: ct("7"), PacketID: "P1"},
			{GrnItemID: "item-1", Carats: ct("7"), PacketID: "P1"},
		},
	})

	// THEN: The backend's own message arrives verbatim
	var be *assortment.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnprocessableEntity, be.StatusCode)
	assert.Equal(t, "allocated 14 ct exceeds remaining 10 ct for GRN item item-1", assortment.SubmissionMessage(err))
	assert.Empty(t, mem.Assortments())

	// WHEN: Corrected
	err = c.AssortGrnToPackets(ctx, assortment.AssortRequest{
		GrnID:       "grn-1",
		WarehouseID: "wh-1",
		Allocations: []assortment.Row{{GrnItemID: "item-1", Carats: ct("7"), PacketID: "P1"}},
	})
	require.NoError(t, err)
	require.Len(t, mem.Assortments(), 1)
	assert.True(t, mem.Assortments()[0].Allocations[0].Carats.Equal(ct("7")))
}

func TestClient_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	c := client.New(slow.URL, client.WithTimeout(20*time.Millisecond))
	err := c.AssortGrnToPackets(context.Background(), assortment.AssortRequest{GrnID: "grn-1"})

	require.Error(t, err)
	var be *assortment.BackendError
	assert.False(t, errors.As(err, &be), "transport failures carry no backend message")
	assert.Equal(t, assortment.GenericSubmissionMessage, assortment.SubmissionMessage(err))
}

func TestClient_DrivesController(t *testing.T) {
	// GIVEN: A controller whose backend is remote
	ctx := context.Background()
	c, mem := remote(t)
	logger, _ := test.NewNullLogger()
	ctrl := assortment.NewController(c, logger)

	// WHEN: A new Round/D/VS1 packet gets 6 ct of item-1
	ctrl.SelectWarehouse("wh-1")
	require.NoError(t, ctrl.SelectGrn(ctx, "grn-1"))
	id := ctrl.AddNewTarget()
	require.NoError(t, ctrl.SetAttribute(id, assortment.AttrShape, "Round"))
	require.NoError(t, ctrl.SetAttribute(id, assortment.AttrColor, "D"))
	require.NoError(t, ctrl.SetAttribute(id, assortment.AttrClarity, "VS1"))
	code, err := ctrl.GenerateCode(ctx, id)
	require.NoError(t, err)
	require.NoError(t, ctrl.SetAllocation(id, "item-1", "6"))
	require.NoError(t, ctrl.Submit(ctx))

	// THEN: The remote ledger has the new packet and the session is reset
	p, ok := mem.Packet(code)
	require.True(t, ok)
	assert.True(t, p.Carats.Equal(ct("6")))
	assert.Equal(t, assortment.StatusSucceeded, ctrl.State().Status)
	assert.Empty(t, ctrl.Session().GrnID())
}
