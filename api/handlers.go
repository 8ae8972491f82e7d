/*
handlers.go - HTTP API handlers for the assortment service

PURPOSE:
  Exposes two surfaces over one Backend:
  - Collaborator endpoints: the inventory operations the engine depends on
    (warehouses, GRNs, remaining quantities, packets, code minting,
    assortment). client.Client talks to these.
  - Session endpoints: one assortment Controller per browser session,
    driven step by step by the front end.

ENDPOINTS:
  Collaborator:
    GET    /api/warehouses                     List warehouses
    GET    /api/grns?warehouse_id=             List GRNs
    GET    /api/grns/{id}/items                Line items with remaining qty
    GET    /api/packets?warehouse_id=&purchase_order_id=
    POST   /api/packets/generate-code          Mint a packet code
    POST   /api/assortments                    Apply an assortment

  Sessions:
    POST   /api/sessions                       Start a session
    GET    /api/sessions/{sid}                 Session state
    DELETE /api/sessions/{sid}                 Drop a session
    GET    /api/sessions/{sid}/warehouses      Warehouses to pick from
    PUT    /api/sessions/{sid}/warehouse       Select warehouse
    GET    /api/sessions/{sid}/grns            GRNs of the selected warehouse
    PUT    /api/sessions/{sid}/grn             Select GRN (loads items/packets)
    POST   /api/sessions/{sid}/targets         Add a new packet draft
    POST   /api/sessions/{sid}/targets/existing
    PUT    /api/sessions/{sid}/targets/{tid}/attributes
    PUT    /api/sessions/{sid}/targets/{tid}/allocations/{itemID}
    POST   /api/sessions/{sid}/targets/{tid}/code
    GET    /api/sessions/{sid}/payload         Rows that would be submitted
    POST   /api/sessions/{sid}/submit          Submit the assortment

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with status:
  - 400: Invalid body, missing selection, nothing to submit
  - 404: Session, target, GRN, line item or packet not found
  - 409: Submission or code generation already running, stale response
  - 422: A new packet is missing its code or classification
  - 502: The backend rejected the request (message passed through)
  - 500: Anything else
  The assortment collaborator endpoint answers {ok, message} instead.

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Session registry
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/gemvault/assortment-engine/assortment"
	"github.com/gemvault/assortment-engine/config"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Backend  assortment.Backend
	Sessions *SessionManager
	Logger   logrus.FieldLogger

	validate *validator.Validate
}

// NewHandler creates a new handler serving the given backend.
func NewHandler(backend assortment.Backend, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Backend:  backend,
		Sessions: NewSessionManager(backend, logger),
		Logger:   logger,
		validate: v,
	}
}

// =============================================================================
// COLLABORATOR ENDPOINTS
// =============================================================================

// ListWarehouses returns all warehouses.
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.Backend.ListWarehouses(r.Context())
	if err != nil {
		h.internalError(w, "ListWarehouses", "Failed to list warehouses", nil, err)
		return
	}
	if warehouses == nil {
		warehouses = []assortment.Warehouse{}
	}
	writeJSON(w, http.StatusOK, warehouses)
}

// ListGrns returns GRNs, optionally for one warehouse.
func (h *Handler) ListGrns(w http.ResponseWriter, r *http.Request) {
	warehouseID := r.URL.Query().Get("warehouse_id")
	grns, err := h.Backend.ListGrns(r.Context(), warehouseID)
	if err != nil {
		h.internalError(w, "ListGrns", "Failed to list GRNs", warehouseID, err)
		return
	}
	if grns == nil {
		grns = []assortment.Grn{}
	}
	writeJSON(w, http.StatusOK, grns)
}

// GetGrnItems returns a GRN's line items with their remaining quantities.
func (h *Handler) GetGrnItems(w http.ResponseWriter, r *http.Request) {
	grnID := chi.URLParam(r, "id")
	items, err := h.Backend.GrnItemsWithRemainingQty(r.Context(), grnID)
	if errors.Is(err, assortment.ErrGrnNotFound) {
		writeError(w, http.StatusNotFound, "GRN not found", nil)
		return
	}
	if err != nil {
		h.internalError(w, "GetGrnItems", "Failed to get GRN items", grnID, err)
		return
	}
	if items == nil {
		items = []assortment.GrnLineItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ListPackets returns packets filtered by warehouse and purchase order.
func (h *Handler) ListPackets(w http.ResponseWriter, r *http.Request) {
	filter := assortment.PacketFilter{
		WarehouseID:     r.URL.Query().Get("warehouse_id"),
		PurchaseOrderID: r.URL.Query().Get("purchase_order_id"),
	}
	packets, err := h.Backend.ListPackets(r.Context(), filter)
	if err != nil {
		h.internalError(w, "ListPackets", "Failed to list packets", filter, err)
		return
	}
	if packets == nil {
		packets = []assortment.Packet{}
	}
	writeJSON(w, http.StatusOK, packets)
}

// GeneratePacketCode mints a code for a classification.
func (h *Handler) GeneratePacketCode(w http.ResponseWriter, r *http.Request) {
	var req GenerateCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	code, err := h.Backend.GeneratePacketCode(r.Context(), assortment.Attributes{
		Shape:   req.Shape,
		Color:   req.Color,
		Clarity: req.Clarity,
	})
	if err != nil {
		var be *assortment.BackendError
		if errors.As(err, &be) {
			writeJSON(w, backendStatus(be), GenerateCodeResponse{OK: false, Message: be.Message})
			return
		}
		h.internalError(w, "GeneratePacketCode", "Failed to generate packet code", req, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateCodeResponse{OK: true, PacketCode: code})
}

// Assort applies an assortment. Rejections carry a user-facing message.
func (h *Handler) Assort(w http.ResponseWriter, r *http.Request) {
	var req AssortRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.Backend.AssortGrnToPackets(r.Context(), assortment.AssortRequest{
		GrnID:       req.GrnID,
		WarehouseID: req.WarehouseID,
		Allocations: req.Allocations,
	})
	if err != nil {
		var be *assortment.BackendError
		if errors.As(err, &be) {
			writeJSON(w, backendStatus(be), AssortResponse{OK: false, Message: assortment.SubmissionMessage(err)})
			return
		}
		config.LogError(h.Logger, "handlers.go", "Assort", "AssortGrnToPackets", req.GrnID, err)
		writeJSON(w, http.StatusInternalServerError, AssortResponse{OK: false, Message: assortment.GenericSubmissionMessage})
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"grn_id": req.GrnID,
		"rows":   len(req.Allocations),
	}).Info("assortment applied")
	writeJSON(w, http.StatusOK, AssortResponse{OK: true})
}

// backendStatus picks the status for a backend rejection.
func backendStatus(be *assortment.BackendError) int {
	if be.StatusCode >= 400 && be.StatusCode < 500 {
		return be.StatusCode
	}
	if errors.Is(be, assortment.ErrGrnNotFound) || errors.Is(be, assortment.ErrPacketNotFound) {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// CreateSession starts an empty assortment session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, ctrl := h.Sessions.Create()
	writeJSON(w, http.StatusCreated, sessionView(id, ctrl))
}

// GetSession returns the full session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionView(id, ctrl))
}

// DeleteSession drops a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Delete(chi.URLParam(r, "sid")) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionWarehouses lists the warehouses a session can pick from.
func (h *Handler) SessionWarehouses(w http.ResponseWriter, r *http.Request) {
	_, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	warehouses, err := ctrl.Warehouses(r.Context())
	if err != nil {
		h.engineError(w, "SessionWarehouses", err)
		return
	}
	if warehouses == nil {
		warehouses = []assortment.Warehouse{}
	}
	writeJSON(w, http.StatusOK, warehouses)
}

// SelectWarehouse selects a warehouse. A different warehouse drops the GRN.
func (h *Handler) SelectWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectWarehouseRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctrl.SelectWarehouse(req.WarehouseID)
	writeJSON(w, http.StatusOK, sessionView(id, ctrl))
}

// SessionGrns lists GRNs of the session's warehouse.
func (h *Handler) SessionGrns(w http.ResponseWriter, r *http.Request) {
	_, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	grns, err := ctrl.Grns(r.Context())
	if err != nil {
		h.engineError(w, "SessionGrns", err)
		return
	}
	if grns == nil {
		grns = []assortment.Grn{}
	}
	writeJSON(w, http.StatusOK, grns)
}

// SelectGrn selects a GRN and loads its items and eligible packets.
func (h *Handler) SelectGrn(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectGrnRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ctrl.SelectGrn(r.Context(), req.GrnID); err != nil {
		h.engineError(w, "SelectGrn", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(id, ctrl))
}

// AddTarget appends a new packet draft.
func (h *Handler) AddTarget(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	tid := ctrl.AddNewTarget()
	writeJSON(w, http.StatusCreated, TargetCreatedResponse{
		TargetID: tid,
		Added:    true,
		Session:  sessionView(id, ctrl),
	})
}

// AddExistingTarget binds a target to an eligible packet. When the GRN has no
// purchase order nothing is added and added is false.
func (h *Handler) AddExistingTarget(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AddExistingTargetRequest
	if !h.decode(w, r, &req) {
		return
	}
	tid, added, err := ctrl.AddExistingTarget(req.PacketID)
	if err != nil {
		h.engineError(w, "AddExistingTarget", err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, TargetCreatedResponse{
		TargetID: tid,
		Added:    added,
		Session:  sessionView(id, ctrl),
	})
}

// SetAttribute sets shape, color, clarity or stage on a new packet draft.
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetAttributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	tid := assortment.TargetID(chi.URLParam(r, "tid"))
	if err := ctrl.SetAttribute(tid, req.Key, req.Value); err != nil {
		h.engineError(w, "SetAttribute", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(id, ctrl))
}

// SetAllocation writes one matrix cell.
func (h *Handler) SetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetAllocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	tid := assortment.TargetID(chi.URLParam(r, "tid"))
	if err := ctrl.SetAllocation(tid, chi.URLParam(r, "itemID"), req.Carats); err != nil {
		h.engineError(w, "SetAllocation", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(id, ctrl))
}

// GenerateTargetCode mints a packet code for a new packet draft.
func (h *Handler) GenerateTargetCode(w http.ResponseWriter, r *http.Request) {
	_, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	tid := assortment.TargetID(chi.URLParam(r, "tid"))
	code, err := ctrl.GenerateCode(r.Context(), tid)
	if err != nil {
		h.engineError(w, "GenerateTargetCode", err)
		return
	}
	writeJSON(w, http.StatusOK, PacketCodeResponse{TargetID: tid, PacketCode: code})
}

// GetPayload returns the rows the session would submit right now.
func (h *Handler) GetPayload(w http.ResponseWriter, r *http.Request) {
	_, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Payload())
}

// Submit validates and submits the session's assortment.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ctrl, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := ctrl.Submit(r.Context()); err != nil {
		h.engineError(w, "Submit", err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Message: ctrl.State().Message,
		Session: sessionView(id, ctrl),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, *assortment.Controller, bool) {
	id := chi.URLParam(r, "sid")
	ctrl, ok := h.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return "", nil, false
	}
	return id, ctrl, true
}

func sessionView(id string, ctrl *assortment.Controller) SessionDTO {
	return toSessionDTO(id, ctrl.Session(), ctrl.State())
}

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "validation_failed",
			Details: validationErrors(err),
		})
		return false
	}
	return true
}

// engineError maps engine errors to HTTP responses.
func (h *Handler) engineError(w http.ResponseWriter, funcName string, err error) {
	var (
		subErr  *assortment.SubmissionError
		codeErr *assortment.CodeGenerationError
		incErr  *assortment.TargetIncompleteError
	)
	switch {
	case errors.As(err, &subErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: subErr.Message, Code: "submission_failed"})
	case errors.As(err, &codeErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   assortment.ErrCodeGenerationFailed.Error(),
			Code:    "code_generation_failed",
			Details: map[string]string{"target_id": string(codeErr.TargetID), "reason": assortment.SubmissionMessage(codeErr.Err)},
		})
	case errors.As(err, &incErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   incErr.Missing.Error(),
			Code:    "target_incomplete",
			Details: map[string]string{"target_id": string(incErr.TargetID)},
		})
	case assortment.IsInputIncomplete(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "input_incomplete"})
	case errors.Is(err, assortment.ErrTargetNotNew):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "target_not_new"})
	case assortment.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case assortment.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	default:
		h.internalError(w, funcName, "Internal error", nil, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, funcName, message string, data any, err error) {
	config.LogError(h.Logger, "handlers.go", funcName, message, data, err)
	writeError(w, http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
