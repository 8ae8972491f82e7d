package assortment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemvault/assortment-engine/assortment"
	"github.com/gemvault/assortment-engine/assortment/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// hookBackend wraps the memory backend so tests can count and pause calls.
type hookBackend struct {
	*store.Memory

	codeCalls   atomic.Int32
	codeErr     error
	beforeItems func(grnID string)
	beforeCode  func()
	beforeSub   func()
}

func (h *hookBackend) GrnItemsWithRemainingQty(ctx context.Context, grnID string) ([]assortment.GrnLineItem, error) {
	if h.beforeItems != nil {
		h.beforeItems(grnID)
	}
	return h.Memory.GrnItemsWithRemainingQty(ctx, grnID)
}

func (h *hookBackend) GeneratePacketCode(ctx context.Context, attrs assortment.Attributes) (string, error) {
	h.codeCalls.Add(1)
	if h.beforeCode != nil {
		h.beforeCode()
	}
	if h.codeErr != nil {
		return "", h.codeErr
	}
	return h.Memory.GeneratePacketCode(ctx, attrs)
}

func (h *hookBackend) AssortGrnToPackets(ctx context.Context, req assortment.AssortRequest) error {
	if h.beforeSub != nil {
		h.beforeSub()
	}
	return h.Memory.AssortGrnToPackets(ctx, req)
}

func newTestBackend() *hookBackend {
	m := store.NewMemory()
	m.AddWarehouse(assortment.Warehouse{ID: "wh-1", Name: "Main Vault"})
	m.AddGrn(assortment.Grn{ID: "grn-1", GrnNumber: "GRN-0001", WarehouseID: "wh-1", PurchaseOrderID: "po-1"},
		item("item-1", "10"), item("item-2", "5"))
	m.AddGrn(assortment.Grn{ID: "grn-2", GrnNumber: "GRN-0002", WarehouseID: "wh-1"},
		item("item-7", "3"))
	m.AddPacket(assortment.Packet{ID: "P1", PacketCode: "RD-D-VS1-050", WarehouseID: "wh-1", PurchaseOrderID: "po-1",
		Shape: "Round", Color: "D", Clarity: "VS1", Carats: ct("2")})
	m.AddPacket(assortment.Packet{ID: "P2", PacketCode: "OV-E-VS2-003", WarehouseID: "wh-1", PurchaseOrderID: "po-9"})
	return &hookBackend{Memory: m}
}

func newTestController(t *testing.T, b assortment.Backend) (*assortment.Controller, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return assortment.NewController(b, logger), hook
}

func selectGrn1(t *testing.T, c *assortment.Controller) {
	t.Helper()
	c.SelectWarehouse("wh-1")
	require.NoError(t, c.SelectGrn(context.Background(), "grn-1"))
}

func codedTarget(t *testing.T, c *assortment.Controller) assortment.TargetID {
	t.Helper()
	id := c.AddNewTarget()
	require.NoError(t, c.SetAttribute(id, assortment.AttrShape, "Round"))
	require.NoError(t, c.SetAttribute(id, assortment.AttrColor, "D"))
	require.NoError(t, c.SetAttribute(id, assortment.AttrClarity, "VS1"))
	_, err := c.GenerateCode(context.Background(), id)
	require.NoError(t, err)
	return id
}

// =============================================================================
// LOADING
// =============================================================================

func TestController_SelectGrn_LoadsItemsAndPackets(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)

	s := c.Session()
	assert.Equal(t, "po-1", s.PurchaseOrderID())
	require.Len(t, s.LineItems(), 2)
	assert.True(t, s.LineItems()[0].RemainingQty.Equal(ct("10")))

	// Only packets of the same purchase order are eligible
	require.Len(t, s.EligiblePackets(), 1)
	assert.Equal(t, "P1", s.EligiblePackets()[0].ID)
}

func TestController_SelectGrn_RequiresWarehouse(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	err := c.SelectGrn(context.Background(), "grn-1")
	assert.ErrorIs(t, err, assortment.ErrWarehouseRequired)
}

func TestController_SelectGrn_Unknown(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	c.SelectWarehouse("wh-1")
	err := c.SelectGrn(context.Background(), "grn-404")
	assert.ErrorIs(t, err, assortment.ErrGrnNotFound)
}

func TestController_ChangingGrn_ClearsTargets(t *testing.T) {
	// GIVEN: Targets with allocations on grn-1
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)
	id := codedTarget(t, c)
	require.NoError(t, c.SetAllocation(id, "item-1", "6"))

	// WHEN: Switching to grn-2
	require.NoError(t, c.SelectGrn(context.Background(), "grn-2"))

	// THEN: Targets are gone and grn-2's items are loaded
	s := c.Session()
	assert.Len(t, s.Targets(), 0)
	require.Len(t, s.LineItems(), 1)
	assert.Equal(t, "item-7", s.LineItems()[0].ID)
	assert.Empty(t, s.EligiblePackets())
}

func TestController_StaleItemsDiscarded(t *testing.T) {
	// GIVEN: Loading grn-1's items is slow
	b := newTestBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	b.beforeItems = func(grnID string) {
		if grnID == "grn-1" {
			close(started)
			<-release
		}
	}
	c, _ := newTestController(t, b)
	c.SelectWarehouse("wh-1")

	var slowErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slowErr = c.SelectGrn(context.Background(), "grn-1")
	}()
	<-started

	// WHEN: The user picks grn-2 before grn-1's items arrive
	require.NoError(t, c.SelectGrn(context.Background(), "grn-2"))
	close(release)
	wg.Wait()

	// THEN: grn-1's late response is dropped
	assert.ErrorIs(t, slowErr, assortment.ErrStaleResponse)
	s := c.Session()
	assert.Equal(t, "grn-2", s.GrnID())
	require.Len(t, s.LineItems(), 1)
	assert.Equal(t, "item-7", s.LineItems()[0].ID)
}

// =============================================================================
// PACKET TARGETS
// =============================================================================

func TestController_AddExistingTarget(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)

	id, ok, err := c.AddExistingTarget("P1")
	require.NoError(t, err)
	require.True(t, ok)
	target, _ := c.Session().Target(id)
	assert.Equal(t, "RD-D-VS1-050", target.PacketCode)

	// Packets of another purchase order are not eligible
	_, _, err = c.AddExistingTarget("P2")
	assert.ErrorIs(t, err, assortment.ErrPacketNotFound)
}

func TestController_AddExistingTarget_NoPurchaseOrder(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	c.SelectWarehouse("wh-1")
	require.NoError(t, c.SelectGrn(context.Background(), "grn-2"))

	id, ok, err := c.AddExistingTarget("P1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Empty(t, c.Session().Targets())
}

// =============================================================================
// CODE GENERATION GATEWAY
// =============================================================================

func TestController_GenerateCode_WritesBack(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)
	id := codedTarget(t, c)

	target, _ := c.Session().Target(id)
	assert.Equal(t, "RD-D-VS1-001", target.PacketCode)
}

func TestController_GenerateCode_MissingAttributes_NoBackendCall(t *testing.T) {
	b := newTestBackend()
	c, _ := newTestController(t, b)
	selectGrn1(t, c)
	id := c.AddNewTarget()
	require.NoError(t, c.SetAttribute(id, assortment.AttrShape, "Round"))

	_, err := c.GenerateCode(context.Background(), id)
	assert.ErrorIs(t, err, assortment.ErrAttributesRequired)
	assert.Equal(t, int32(0), b.codeCalls.Load())
}

func TestController_GenerateCode_ExistingTarget(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)
	id, _, err := c.AddExistingTarget("P1")
	require.NoError(t, err)

	_, err = c.GenerateCode(context.Background(), id)
	assert.ErrorIs(t, err, assortment.ErrTargetNotNew)
}

func TestController_GenerateCode_TwiceGivesNewCode(t *testing.T) {
	c, _ := newTestController(t, newTestBackend())
	selectGrn1(t, c)
	id := codedTarget(t, c)

	code, err := c.GenerateCode(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "RD-D-VS1-002", code)
}

func TestController_GenerateCode_GatewayFailure(t *testing.T) {
	// GIVEN: The naming service is down
	b := newTestBackend()
	b.codeErr = errors.New("naming service unavailable")
	c, hook := newTestController(t, b)
	selectGrn1(t, c)
	id := c.AddNewTarget()
	for k, v := range map[string]string{"shape": "Round", "color": "D", "clarity": "VS1"} {
		require.NoError(t, c.SetAttribute(id, k, v))
	}
	require.NoError(t, c.SetAllocation(id, "item-1", "2"))

	// WHEN: Generating a code
	_, err := c.GenerateCode(context.Background(), id)

	// THEN: The failure is tied to the target, which stays uncoded
	var ce *assortment.CodeGenerationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, id, ce.TargetID)
	assert.ErrorIs(t, err, assortment.ErrCodeGenerationFailed)
	target, _ := c.Session().Target(id)
	assert.Empty(t, target.PacketCode)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	// AND: It cannot contribute to a submission
	assert.ErrorIs(t, c.Submit(context.Background()), assortment.ErrPacketCodeRequired)
}

func TestController_GenerateCode_SingleFlightPerTarget(t *testing.T) {
	b := newTestBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.beforeCode = func() {
		once.Do(func() { close(started) })
		<-release
	}
	c, _ := newTestController(t, b)
	selectGrn1(t, c)
	id := c.AddNewTarget()
	for k, v := range map[string]string{"shape": "Oval", "color": "E", "clarity": "SI2"} {
		require.NoError(t, c.SetAttribute(id, k, v))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.GenerateCode(context.Background(), id)
	}()
	<-started

	_, err := c.GenerateCode(context.Background(), id)
	assert.ErrorIs(t, err, assortment.ErrCodeGenerationInFlight)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), b.codeCalls.Load())
}

// =============================================================================
// SUBMISSION ORCHESTRATOR
// =============================================================================

func TestController_Submit_Success_ResetsSession(t *testing.T) {
	// GIVEN: A coded draft with 6 ct of a 10 ct line
	b := newTestBackend()
	c, _ := newTestController(t, b)
	selectGrn1(t, c)
	id := codedTarget(t, c)
	require.NoError(t, c.SetAllocation(id, "item-1", "6"))

	// WHEN: Submitting
	require.NoError(t, c.Submit(context.Background()))

	// THEN: Confirmation shown and everything but the warehouse cleared
	state := c.State()
	assert.Equal(t, assortment.StatusSucceeded, state.Status)
	assert.Equal(t, assortment.SuccessMessage, state.Message)
	s := c.Session()
	assert.Equal(t, "wh-1", s.WarehouseID())
	assert.Empty(t, s.GrnID())
	assert.Empty(t, s.LineItems())
	assert.Empty(t, s.Targets())

	// AND: The backend ledger moved
	items, err := b.GrnItemsWithRemainingQty(context.Background(), "grn-1")
	require.NoError(t, err)
	assert.True(t, items[0].RemainingQty.Equal(ct("4")))
	p, ok := b.Packet("RD-D-VS1-001")
	require.True(t, ok)
	assert.True(t, p.Carats.Equal(ct("6")))
	assert.Equal(t, "po-1", p.PurchaseOrderID)
}

func TestController_Submit_ValidationErrorsMakeNoCall(t *testing.T) {
	b := newTestBackend()
	c, _ := newTestController(t, b)

	assert.ErrorIs(t, c.Submit(context.Background()), assortment.ErrWarehouseRequired)

	selectGrn1(t, c)
	assert.ErrorIs(t, c.Submit(context.Background()), assortment.ErrNoValidAllocations)

	assert.Empty(t, b.Assortments())
	assert.Equal(t, assortment.StatusIdle, c.State().Status)
}

func TestController_Submit_OverallocationRejectedByBackend(t *testing.T) {
	// GIVEN: Two targets allocating 7 ct each against a 10 ct line
	b := newTestBackend()
	c, hook := newTestController(t, b)
	selectGrn1(t, c)
	existing, _, err := c.AddExistingTarget("P1")
	require.NoError(t, err)
	draft := codedTarget(t, c)
	require.NoError(t, c.SetAllocation(existing, "item-1", "7"))
	require.NoError(t, c.SetAllocation(draft, "item-1", "7"))

	// WHEN: Submitting; the client does not block
	err = c.Submit(context.Background())

	// THEN: The backend rejects and its message is shown verbatim
	var se *assortment.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, assortment.ErrExceedsRemaining)
	assert.Equal(t, "allocated 14 ct exceeds remaining 10 ct for GRN item item-1", se.Message)
	assert.Equal(t, assortment.RequestState{Status: assortment.StatusFailed, Message: se.Message}, c.State())

	// AND: Local state is intact for a retry
	s := c.Session()
	assert.Len(t, s.Targets(), 2)
	assert.Len(t, assortment.BuildPayload(s), 2)

	// AND: The over-allocation was logged before sending
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Data["grn_item_id"] == "item-1" && e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	// WHEN: The user fixes the entry and retries
	require.NoError(t, c.SetAllocation(draft, "item-1", "3"))
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, assortment.StatusSucceeded, c.State().Status)
}

func TestController_Submit_GenericFailureMessage(t *testing.T) {
	b := newTestBackend()
	b.FailNext = errors.New("connection reset")
	c, _ := newTestController(t, b)
	selectGrn1(t, c)
	id, _, err := c.AddExistingTarget("P1")
	require.NoError(t, err)
	require.NoError(t, c.SetAllocation(id, "item-2", "1"))

	err = c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, assortment.GenericSubmissionMessage, err.Error())
	assert.Equal(t, assortment.StatusFailed, c.State().Status)
	assert.Len(t, c.Session().Targets(), 1)
}

func TestController_Submit_SingleFlight(t *testing.T) {
	// GIVEN: A submission that is still running
	b := newTestBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	b.beforeSub = func() {
		close(started)
		<-release
	}
	c, _ := newTestController(t, b)
	selectGrn1(t, c)
	id, _, err := c.AddExistingTarget("P1")
	require.NoError(t, err)
	require.NoError(t, c.SetAllocation(id, "item-1", "1"))

	var first error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = c.Submit(context.Background())
	}()
	<-started

	// WHEN: Confirming again
	assert.Equal(t, assortment.StatusInFlight, c.State().Status)
	second := c.Submit(context.Background())

	// THEN: The second attempt is refused, the first completes
	assert.ErrorIs(t, second, assortment.ErrSubmissionInFlight)
	close(release)
	wg.Wait()
	assert.NoError(t, first)
	assert.Len(t, b.Assortments(), 1)
}
