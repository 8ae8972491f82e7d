/*
backend.go - Interface to the inventory backend

PURPOSE:
  Everything the engine needs from outside: warehouses, GRNs, remaining
  quantities, eligible packets, packet code minting and the assortment
  endpoint. The backend owns all persistence and inventory conservation.

IMPLEMENTATIONS:
  - store/memory.go: In-memory backend for tests and development
  - ../store/sqlite: SQLite reference backend
  - ../client: HTTP client for a remote backend

PACKET CODES:
  Codes read <SHAPE>-<COLOR>-<CLARITY>-<NNN>, e.g. RD-D-VS1-001. The
  sequence is per prefix. Minting is not idempotent: two calls return two
  codes.

SEE ALSO:
  - controller.go: The only caller
*/
package assortment

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the inventory service the engine talks to.
type Backend interface {
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	ListGrns(ctx context.Context, warehouseID string) ([]Grn, error)
	GrnItemsWithRemainingQty(ctx context.Context, grnID string) ([]GrnLineItem, error)
	ListPackets(ctx context.Context, filter PacketFilter) ([]Packet, error)

	// GeneratePacketCode mints a new unique code. Not idempotent.
	GeneratePacketCode(ctx context.Context, attrs Attributes) (string, error)

	// AssortGrnToPackets applies all rows atomically or none of them.
	AssortGrnToPackets(ctx context.Context, req AssortRequest) error
}

// =============================================================================
// PACKET CODE FORMAT
// =============================================================================

var shapeAbbreviations = map[string]string{
	"round":    "RD",
	"princess": "PR",
	"oval":     "OV",
	"emerald":  "EM",
	"cushion":  "CU",
	"pear":     "PS",
	"marquise": "MQ",
	"radiant":  "RA",
	"asscher":  "AS",
	"heart":    "HS",
}

// ShapeAbbreviation returns the trade abbreviation for a shape, falling back
// to its first two letters.
func ShapeAbbreviation(shape string) string {
	shape = strings.TrimSpace(shape)
	if abbr, ok := shapeAbbreviations[strings.ToLower(shape)]; ok {
		return abbr
	}
	upper := []rune(strings.ToUpper(strings.ReplaceAll(shape, " ", "")))
	if len(upper) > 2 {
		upper = upper[:2]
	}
	return string(upper)
}

// CodePrefix is the sequence key for a classification.
func CodePrefix(attrs Attributes) string {
	return fmt.Sprintf("%s-%s-%s",
		ShapeAbbreviation(attrs.Shape),
		strings.ToUpper(strings.TrimSpace(attrs.Color)),
		strings.ToUpper(strings.TrimSpace(attrs.Clarity)))
}

// FormatPacketCode renders the code for the seq-th packet of a prefix.
func FormatPacketCode(prefix string, seq int) string {
	return fmt.Sprintf("%s-%03d", prefix, seq)
}
