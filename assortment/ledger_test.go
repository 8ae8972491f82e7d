package assortment_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemvault/assortment-engine/assortment"
)

// =============================================================================
// REMAINING QUANTITY CHECKS
// =============================================================================

func TestCheckRemaining_WithinBalance(t *testing.T) {
	items := []assortment.GrnLineItem{item("item-1", "10"), item("item-2", "2.5")}
	rows := []assortment.Row{
		{GrnItemID: "item-1", Carats: ct("4"), PacketID: "P1"},
		{GrnItemID: "item-1", Carats: ct("6"), PacketID: "P2"},
		{GrnItemID: "item-2", Carats: ct("2.5"), PacketID: "P1"},
	}
	assert.NoError(t, assortment.CheckRemaining(items, rows))
}

func TestCheckRemaining_ExceedsAcrossRows(t *testing.T) {
	items := []assortment.GrnLineItem{item("item-1", "10")}
	rows := []assortment.Row{
		{GrnItemID: "item-1", Carats: ct("7"), PacketID: "P1"},
		{GrnItemID: "item-1", Carats: ct("7"), PacketID: "P2"},
	}

	err := assortment.CheckRemaining(items, rows)
	assert.ErrorIs(t, err, assortment.ErrExceedsRemaining)
	assert.Equal(t, "allocated 14 ct exceeds remaining 10 ct for GRN item item-1", assortment.SubmissionMessage(err))
}

func TestCheckRemaining_ForeignLineItem(t *testing.T) {
	err := assortment.CheckRemaining(
		[]assortment.GrnLineItem{item("item-1", "10")},
		[]assortment.Row{{GrnItemID: "item-9", Carats: ct("1"), PacketID: "P1"}},
	)
	assert.ErrorIs(t, err, assortment.ErrLineItemNotFound)
}

func TestCheckRemaining_NonPositiveRow(t *testing.T) {
	err := assortment.CheckRemaining(
		[]assortment.GrnLineItem{item("item-1", "10")},
		[]assortment.Row{{GrnItemID: "item-1", Carats: ct("0"), PacketID: "P1"}},
	)
	require.Error(t, err)
	assert.Contains(t, assortment.SubmissionMessage(err), "greater than zero")
}

func TestCheckRemaining_OutOfRangeRow(t *testing.T) {
	err := assortment.CheckRemaining(
		[]assortment.GrnLineItem{item("item-1", "10")},
		[]assortment.Row{{GrnItemID: "item-1", Carats: ct("1e-50000000"), PacketID: "P1"}},
	)
	require.Error(t, err)
	assert.Equal(t, "carats for GRN item item-1 are out of range", assortment.SubmissionMessage(err))
}

func TestOverallocated_CountsUncodedDrafts(t *testing.T) {
	// Advisory totals include cells that the row filter would drop today
	s := loadedSession(t, item("item-1", "10"), item("item-2", "1"))
	s, a := newTarget(t, s, "Round", "D", "VS1", "")
	s, b := existingTarget(t, s, "P1")
	s = allocate(t, s, a, "item-1", "8")
	s = allocate(t, s, b, "item-1", "3")
	s = allocate(t, s, b, "item-2", "1")

	over := assortment.Overallocated(s)
	require.Len(t, over, 1)
	assert.Equal(t, "item-1", over[0].LineItemID)
	assert.True(t, over[0].Allocated.Equal(ct("11")))
	assert.True(t, over[0].Excess.Equal(ct("1")))

	totals := assortment.AllocatedByLine(s)
	assert.True(t, totals["item-2"].Equal(ct("1")))
}

// =============================================================================
// PACKET CODES
// =============================================================================

func TestCodePrefix(t *testing.T) {
	tests := []struct {
		attrs assortment.Attributes
		want  string
	}{
		{assortment.Attributes{Shape: "Round", Color: "D", Clarity: "VS1"}, "RD-D-VS1"},
		{assortment.Attributes{Shape: "pear", Color: "g", Clarity: "si2"}, "PS-G-SI2"},
		{assortment.Attributes{Shape: "Trillion", Color: "F", Clarity: "IF"}, "TR-F-IF"},
		{assortment.Attributes{Shape: " Old Mine ", Color: "K", Clarity: "I1"}, "OL-K-I1"},
		{assortment.Attributes{Shape: "Éclat", Color: "H", Clarity: "VS2"}, "ÉC-H-VS2"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := assortment.CodePrefix(tt.attrs)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
	assert.Equal(t, "RD-D-VS1-001", assortment.FormatPacketCode("RD-D-VS1", 1))
	assert.Equal(t, "RD-D-VS1-1234", assortment.FormatPacketCode("RD-D-VS1", 1234))
}
