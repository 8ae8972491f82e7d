/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's Session from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Collaborator endpoints:
    GenerateCodeRequest, GenerateCodeResponse, AssortResponse

  Sessions:
    SessionDTO, TargetDTO, LineItemDTO, OverallocationDTO
    SelectWarehouseRequest, SelectGrnRequest, AddExistingTargetRequest,
    SetAttributeRequest, SetAllocationRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which rejects bodies that fail them with a 400 and a
  field -> rule map in details.

SEE ALSO:
  - handlers.go: Uses these types
  - assortment/types.go: Row wire shape
*/
package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/gemvault/assortment-engine/assortment"
)

// =============================================================================
// COLLABORATOR TYPES
// =============================================================================

// GenerateCodeRequest asks for a new packet code.
type GenerateCodeRequest struct {
	Shape   string `json:"shape" validate:"required"`
	Color   string `json:"color" validate:"required"`
	Clarity string `json:"clarity" validate:"required"`
}

// GenerateCodeResponse carries a freshly minted code.
type GenerateCodeResponse struct {
	OK         bool   `json:"ok"`
	PacketCode string `json:"packet_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// AssortRequest is the body of POST /api/assortments.
type AssortRequest struct {
	GrnID       string           `json:"grn_id" validate:"required"`
	WarehouseID string           `json:"warehouse_id"`
	Allocations []assortment.Row `json:"allocations"`
}

// AssortResponse reports the outcome of an assortment. Message is shown to
// the user verbatim.
type AssortResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// SESSION TYPES
// =============================================================================

// SessionDTO is the full state of one assortment session.
type SessionDTO struct {
	ID              string                  `json:"id"`
	WarehouseID     string                  `json:"warehouse_id,omitempty"`
	Grn             *assortment.Grn         `json:"grn,omitempty"`
	LineItems       []LineItemDTO           `json:"line_items"`
	EligiblePackets []assortment.Packet     `json:"eligible_packets"`
	Targets         []TargetDTO             `json:"targets"`
	Overallocated   []OverallocationDTO     `json:"overallocated"`
	Request         assortment.RequestState `json:"request"`
}

// LineItemDTO is a GRN line with the carats the session currently allocates
// to it.
type LineItemDTO struct {
	ID           string          `json:"id"`
	Description  string          `json:"description,omitempty"`
	ReceivedQty  decimal.Decimal `json:"received_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	Allocated    decimal.Decimal `json:"allocated"`
}

// TargetDTO is one packet target and its raw allocation cells.
type TargetDTO struct {
	ID         assortment.TargetID `json:"id"`
	Mode       assortment.Mode     `json:"mode"`
	PacketID   string              `json:"packet_id,omitempty"`
	PacketCode string              `json:"packet_code,omitempty"`
	Shape      string              `json:"shape,omitempty"`
	Color      string              `json:"color,omitempty"`
	Clarity    string              `json:"clarity,omitempty"`
	Stage      string              `json:"stage,omitempty"`
	Cells      []assortment.Cell   `json:"cells"`
	Total      decimal.Decimal     `json:"total"`
}

// OverallocationDTO flags a line whose allocations exceed what remains.
type OverallocationDTO struct {
	GrnItemID string          `json:"grn_item_id"`
	Remaining decimal.Decimal `json:"remaining"`
	Allocated decimal.Decimal `json:"allocated"`
	Excess    decimal.Decimal `json:"excess"`
}

type SelectWarehouseRequest struct {
	WarehouseID string `json:"warehouse_id" validate:"required"`
}

type SelectGrnRequest struct {
	GrnID string `json:"grn_id" validate:"required"`
}

type AddExistingTargetRequest struct {
	PacketID string `json:"packet_id" validate:"required"`
}

// SetAttributeRequest sets one classification field. An empty value clears it.
type SetAttributeRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// SetAllocationRequest carries the raw cell entry. It is not parsed here;
// invalid entries are dropped when the payload is built.
type SetAllocationRequest struct {
	Carats string `json:"carats"`
}

// TargetCreatedResponse is returned when a target is added.
type TargetCreatedResponse struct {
	TargetID assortment.TargetID `json:"target_id,omitempty"`
	Added    bool                `json:"added"`
	Session  SessionDTO          `json:"session"`
}

// PacketCodeResponse is returned by the per-target code endpoint.
type PacketCodeResponse struct {
	TargetID   assortment.TargetID `json:"target_id"`
	PacketCode string              `json:"packet_code"`
}

// SubmitResponse is returned by the submit endpoint on success.
type SubmitResponse struct {
	Message string     `json:"message"`
	Session SessionDTO `json:"session"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toSessionDTO(id string, s assortment.Session, state assortment.RequestState) SessionDTO {
	dto := SessionDTO{
		ID:              id,
		WarehouseID:     s.WarehouseID(),
		LineItems:       []LineItemDTO{},
		EligiblePackets: s.EligiblePackets(),
		Targets:         []TargetDTO{},
		Overallocated:   []OverallocationDTO{},
		Request:         state,
	}
	if g, ok := s.Grn(); ok {
		dto.Grn = &g
	}
	if dto.EligiblePackets == nil {
		dto.EligiblePackets = []assortment.Packet{}
	}

	allocated := assortment.AllocatedByLine(s)
	for _, it := range s.LineItems() {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			ID:           it.ID,
			Description:  it.Description,
			ReceivedQty:  it.ReceivedQty,
			RemainingQty: it.RemainingQty,
			Allocated:    allocated[it.ID],
		})
	}
	for _, t := range s.Targets() {
		dto.Targets = append(dto.Targets, TargetDTO{
			ID:         t.ID,
			Mode:       t.Mode,
			PacketID:   t.PacketID,
			PacketCode: t.PacketCode,
			Shape:      t.Shape,
			Color:      t.Color,
			Clarity:    t.Clarity,
			Stage:      t.Stage,
			Cells:      t.Cells(),
			Total:      t.Total(),
		})
	}
	for _, o := range assortment.Overallocated(s) {
		dto.Overallocated = append(dto.Overallocated, OverallocationDTO{
			GrnItemID: o.LineItemID,
			Remaining: o.Remaining,
			Allocated: o.Allocated,
			Excess:    o.Excess,
		})
	}
	return dto
}

// validationErrors maps each failing field to the rule it broke.
func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}
