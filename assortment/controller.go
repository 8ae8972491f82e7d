/*
controller.go - Session owner, code generation and submission

PURPOSE:
  A Controller owns one user's Session and is the only place it changes.
  Each user action replaces the Session with a new value. Backend calls are
  made without holding the lock, so a slow call never blocks edits.

REQUEST STATE:
  ┌──────┐  Submit   ┌──────────┐  ok    ┌───────────┐
  │ Idle │ ────────▶ │ InFlight │ ─────▶ │ Succeeded │
  └──────┘           └──────────┘        └───────────┘
                          │ error
                          ▼
                     ┌────────┐
                     │ Failed │  (Submit allowed again)
                     └────────┘

  Submit is rejected with ErrSubmissionInFlight while InFlight.

STALE RESPONSES:
  Selecting a GRN bumps the session generation. Line items, packets and
  packet codes that come back for an older generation are dropped with
  ErrStaleResponse.

SUCCESS / FAILURE:
  - Success: GRN, line items and all targets are cleared
  - Failure: the backend's message is kept verbatim (or a generic one);
    the session is left as it was so the user can retry

SEE ALSO:
  - session.go: The state being replaced
  - payload.go: Validate runs before every submission
*/
package assortment

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// REQUEST STATE
// =============================================================================

type RequestStatus string

const (
	StatusIdle      RequestStatus = "idle"
	StatusInFlight  RequestStatus = "in_flight"
	StatusFailed    RequestStatus = "failed"
	StatusSucceeded RequestStatus = "succeeded"
)

// RequestState is the submission state. Message holds the confirmation on
// success and the user-facing reason on failure.
type RequestState struct {
	Status  RequestStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

func (rs RequestState) acceptsSubmit() bool {
	return rs.Status != StatusInFlight
}

// =============================================================================
// CONTROLLER
// =============================================================================

type Controller struct {
	backend Backend
	log     logrus.FieldLogger

	mu          sync.Mutex
	session     Session
	state       RequestState
	codePending map[TargetID]bool
	touchedAt   time.Time
}

func NewController(backend Backend, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		backend:     backend,
		log:         log.WithField("module", "assortment"),
		session:     NewSession(),
		state:       RequestState{Status: StatusIdle},
		codePending: make(map[TargetID]bool),
		touchedAt:   time.Now(),
	}
}

// Session returns the current snapshot.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) State() RequestState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TouchedAt is the time of the last user action.
func (c *Controller) TouchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touchedAt
}

// update applies fn to the current session under the lock.
func (c *Controller) update(fn func(Session) (Session, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := fn(c.session)
	if err != nil {
		return err
	}
	c.session = next
	c.touchedAt = time.Now()
	return nil
}

// =============================================================================
// SELECTION & LOADING
// =============================================================================

func (c *Controller) Warehouses(ctx context.Context) ([]Warehouse, error) {
	return c.backend.ListWarehouses(ctx)
}

// Grns lists the GRNs of the selected warehouse.
func (c *Controller) Grns(ctx context.Context) ([]Grn, error) {
	wh := c.Session().WarehouseID()
	if wh == "" {
		return nil, ErrWarehouseRequired
	}
	return c.backend.ListGrns(ctx, wh)
}

func (c *Controller) SelectWarehouse(warehouseID string) {
	c.update(func(s Session) (Session, error) {
		return s.SelectWarehouse(warehouseID), nil
	})
}

// SelectGrn selects a GRN of the current warehouse, then loads its line items
// and the packets of its purchase order. All targets are discarded.
func (c *Controller) SelectGrn(ctx context.Context, grnID string) error {
	grns, err := c.Grns(ctx)
	if err != nil {
		return err
	}
	var grn *Grn
	for i := range grns {
		if grns[i].ID == grnID {
			grn = &grns[i]
			break
		}
	}
	if grn == nil {
		return ErrGrnNotFound
	}

	var gen uint64
	var warehouseID string
	c.update(func(s Session) (Session, error) {
		next := s.SelectGrn(*grn)
		gen, warehouseID = next.Generation(), next.WarehouseID()
		return next, nil
	})

	log := c.log.WithFields(logrus.Fields{"grn_id": grnID, "generation": gen})

	items, err := c.backend.GrnItemsWithRemainingQty(ctx, grnID)
	if err != nil {
		log.WithError(err).Warn("failed to load GRN items")
		return err
	}
	if err := c.update(func(s Session) (Session, error) { return s.WithLineItems(gen, items) }); err != nil {
		log.Debug("discarding stale GRN items")
		return err
	}

	if grn.PurchaseOrderID == "" {
		return nil
	}
	packets, err := c.backend.ListPackets(ctx, PacketFilter{
		WarehouseID:     warehouseID,
		PurchaseOrderID: grn.PurchaseOrderID,
	})
	if err != nil {
		log.WithError(err).Warn("failed to load eligible packets")
		return err
	}
	if err := c.update(func(s Session) (Session, error) { return s.WithPackets(gen, packets) }); err != nil {
		log.Debug("discarding stale packet list")
		return err
	}
	return nil
}

// =============================================================================
// TARGETS & MATRIX
// =============================================================================

func (c *Controller) AddNewTarget() TargetID {
	var id TargetID
	c.update(func(s Session) (Session, error) {
		var next Session
		next, id = s.AddNewTarget()
		return next, nil
	})
	return id
}

// AddExistingTarget binds a new target to an eligible packet. ok is false,
// and nothing changes, when the GRN has no purchase order. An unknown packet
// returns ErrPacketNotFound.
func (c *Controller) AddExistingTarget(packetID string) (id TargetID, ok bool, err error) {
	err = c.update(func(s Session) (Session, error) {
		if s.PurchaseOrderID() == "" {
			return s, nil
		}
		p, found := s.EligiblePacket(packetID)
		if !found {
			return s, ErrPacketNotFound
		}
		var next Session
		next, id, ok = s.AddExistingTarget(p)
		return next, nil
	})
	return id, ok, err
}

func (c *Controller) SetAttribute(id TargetID, key, value string) error {
	return c.update(func(s Session) (Session, error) { return s.SetAttribute(id, key, value) })
}

func (c *Controller) SetAllocation(id TargetID, lineItemID, carats string) error {
	return c.update(func(s Session) (Session, error) { return s.SetAllocation(id, lineItemID, carats) })
}

// =============================================================================
// CODE GENERATION GATEWAY
// =============================================================================

// GenerateCode mints a packet code for a new target. Shape, color and clarity
// must be set; otherwise the backend is not called. A second call for the
// same target while one is running returns ErrCodeGenerationInFlight.
func (c *Controller) GenerateCode(ctx context.Context, id TargetID) (string, error) {
	c.mu.Lock()
	t, ok := c.session.Target(id)
	switch {
	case !ok:
		c.mu.Unlock()
		return "", ErrTargetNotFound
	case t.Mode != ModeNew:
		c.mu.Unlock()
		return "", ErrTargetNotNew
	case !t.Attributes().Complete():
		c.mu.Unlock()
		return "", &TargetIncompleteError{TargetID: id, Missing: ErrAttributesRequired}
	case c.codePending[id]:
		c.mu.Unlock()
		return "", ErrCodeGenerationInFlight
	}
	gen := c.session.Generation()
	c.codePending[id] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.codePending, id)
		c.mu.Unlock()
	}()

	log := c.log.WithFields(logrus.Fields{"target_id": id, "attributes": t.Attributes()})
	code, err := c.backend.GeneratePacketCode(ctx, t.Attributes())
	if err != nil {
		log.WithError(err).Warn("packet code generation failed")
		return "", &CodeGenerationError{TargetID: id, Err: err}
	}

	err = c.update(func(s Session) (Session, error) {
		if s.Generation() != gen {
			return s, ErrStaleResponse
		}
		return s.SetPacketCode(id, code)
	})
	if err != nil {
		log.WithField("packet_code", code).Debug("discarding packet code")
		return "", err
	}
	log.WithField("packet_code", code).Info("packet code generated")
	return code, nil
}

// =============================================================================
// SUBMISSION ORCHESTRATOR
// =============================================================================

// Payload returns the rows the current session would submit.
func (c *Controller) Payload() []Row {
	return BuildPayload(c.Session())
}

// Submit validates the session and sends the assortment. Validation errors
// leave the request state untouched; backend errors move it to Failed and
// are returned as *SubmissionError.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.acceptsSubmit() {
		c.mu.Unlock()
		return ErrSubmissionInFlight
	}
	s := c.session
	rows, err := Validate(s)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = RequestState{Status: StatusInFlight}
	c.touchedAt = time.Now()
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{
		"grn_id":       s.GrnID(),
		"warehouse_id": s.WarehouseID(),
		"rows":         len(rows),
	})
	for _, o := range Overallocated(s) {
		log.WithFields(logrus.Fields{
			"grn_item_id": o.LineItemID,
			"remaining":   o.Remaining.String(),
			"allocated":   o.Allocated.String(),
		}).Warn("allocations exceed remaining quantity; leaving it to the backend")
	}

	err = c.backend.AssortGrnToPackets(ctx, AssortRequest{
		GrnID:       s.GrnID(),
		WarehouseID: s.WarehouseID(),
		Allocations: rows,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		msg := SubmissionMessage(err)
		c.state = RequestState{Status: StatusFailed, Message: msg}
		log.WithError(err).Warn("assortment rejected")
		return &SubmissionError{Message: msg, Err: err}
	}

	c.state = RequestState{Status: StatusSucceeded, Message: SuccessMessage}
	// A different GRN selected meanwhile is the user's new work; keep it.
	if c.session.Generation() == s.Generation() {
		c.session = c.session.Reset()
	}
	log.Info("assortment submitted")
	return nil
}
