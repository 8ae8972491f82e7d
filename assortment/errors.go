/*
errors.go - Centralized error types for the assortment engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Backends and the HTTP layer wrap or classify these errors.

ERROR CATEGORIES:
  1. Input-incomplete - no warehouse/GRN selected, no valid rows
  2. Target-incomplete - a new packet lacks classification or code
  3. Gateway failure - packet code generation failed
  4. Submission failure - the backend rejected the assortment
  5. Session errors - unknown targets, stale responses, single-flight

USAGE:
  if errors.Is(err, assortment.ErrPacketCodeRequired) {
      // ask the user to generate a code first
  }

SEE ALSO:
  - payload.go: Raises input and target errors
  - controller.go: Raises gateway, submission and session errors
*/
package assortment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrWarehouseRequired  = errors.New("select a warehouse")
	ErrGrnRequired        = errors.New("select a GRN")
	ErrNoValidAllocations = errors.New("no valid allocations")

	ErrPacketCodeRequired = errors.New("generate packet code before submitting")
	ErrAttributesRequired = errors.New("shape, color and clarity are required")

	// ErrCodeGenerationFailed wraps gateway failures.
	ErrCodeGenerationFailed = errors.New("packet code generation failed")

	// ErrSubmissionFailed wraps backend rejections of an assortment.
	ErrSubmissionFailed = errors.New("assortment submission failed")

	// ErrSubmissionInFlight is returned when a submission is already running.
	ErrSubmissionInFlight = errors.New("submission already in progress")

	// ErrCodeGenerationInFlight is returned when a code is already being
	// generated for the same target.
	ErrCodeGenerationInFlight = errors.New("packet code generation already in progress")

	// ErrStaleResponse is returned when the GRN selection changed while a
	// backend call was in flight. The response is discarded.
	ErrStaleResponse = errors.New("selection changed while request was in flight")

	ErrTargetNotFound   = errors.New("packet target not found")
	ErrTargetNotNew     = errors.New("packet target is not a new packet")
	ErrLineItemNotFound = errors.New("GRN line item not found")
	ErrGrnNotFound      = errors.New("GRN not found")
	ErrPacketNotFound   = errors.New("packet not found")

	// ErrExceedsRemaining is raised by backends when allocations for a line
	// item add up to more than its remaining quantity.
	ErrExceedsRemaining = errors.New("allocation exceeds remaining quantity")
)

// GenericSubmissionMessage is shown when the backend gives no reason.
const GenericSubmissionMessage = "Failed to assort packets"

// SuccessMessage is the confirmation shown after a successful submission.
const SuccessMessage = "Packets assorted successfully"

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TargetIncompleteError identifies the packet target that blocks submission.
type TargetIncompleteError struct {
	TargetID TargetID
	Missing  error // ErrPacketCodeRequired or ErrAttributesRequired
}

func (e *TargetIncompleteError) Error() string {
	return fmt.Sprintf("packet target %s: %v", e.TargetID, e.Missing)
}

func (e *TargetIncompleteError) Unwrap() error {
	return e.Missing
}

// CodeGenerationError is reported per target when the gateway fails.
type CodeGenerationError struct {
	TargetID TargetID
	Err      error
}

func (e *CodeGenerationError) Error() string {
	return fmt.Sprintf("packet target %s: %v: %v", e.TargetID, ErrCodeGenerationFailed, e.Err)
}

func (e *CodeGenerationError) Unwrap() []error {
	return []error{ErrCodeGenerationFailed, e.Err}
}

// BackendError is a rejection reported by a backend. Message is meant for the
// user and is shown verbatim.
type BackendError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("backend error (status %d)", e.StatusCode)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// SubmissionError is returned by Controller.Submit when the backend rejects
// the assortment. Message is what the user sees.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrSubmissionFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// SubmissionMessage returns the backend's message if it gave one, otherwise
// the generic failure message.
func SubmissionMessage(err error) string {
	var be *BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return GenericSubmissionMessage
}

// IsInputIncomplete reports missing selections or an empty payload.
func IsInputIncomplete(err error) bool {
	return errors.Is(err, ErrWarehouseRequired) ||
		errors.Is(err, ErrGrnRequired) ||
		errors.Is(err, ErrNoValidAllocations)
}

// IsTargetIncomplete reports a new packet missing its code or classification.
func IsTargetIncomplete(err error) bool {
	var te *TargetIncompleteError
	return errors.As(err, &te)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrLineItemNotFound) ||
		errors.Is(err, ErrGrnNotFound) ||
		errors.Is(err, ErrPacketNotFound)
}

// IsConflict reports errors caused by concurrent activity in the session.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSubmissionInFlight) ||
		errors.Is(err, ErrCodeGenerationInFlight) ||
		errors.Is(err, ErrStaleResponse)
}
