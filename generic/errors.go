/*
errors.go - Centralized error kinds for the fee engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every error that leaves a service carries a machine-readable Kind and a
  human-readable message. Callers branch on the kind, never on the text.

ERROR KINDS:
  VALIDATION     Malformed input (recovered at the HTTP boundary)
  NOT_FOUND      Referenced person/category/rule/type/cuota absent
  CONFLICT       Duplicate cuota for a period, catalog code reuse
  BUSINESS_RULE  Invalid lifecycle transition, protected code, non-editable item
  CONFIGURATION  A person cannot be billed (missing category or base amount)
  FORMULA        A calculated type or rule formula cannot be evaluated
  INTERNAL       Store failures and everything else

PROPAGATION:
  Single-record operations return the first error and roll back.
  Batch runs catch CONFIGURATION and FORMULA errors per person and
  record them in the run result.

USAGE:
  if errors.Is(err, generic.ErrConflict) { ... }

  var dup *generic.DuplicateCuotaError
  if errors.As(err, &dup) { ... dup.ExistingID ... }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
  - batch/generator.go: Per-person isolation of CONFIGURATION/FORMULA
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KIND
// =============================================================================

type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindConflict      ErrorKind = "CONFLICT"
	KindBusinessRule  ErrorKind = "BUSINESS_RULE"
	KindConfiguration ErrorKind = "CONFIGURATION"
	KindFormula       ErrorKind = "FORMULA"
	KindInternal      ErrorKind = "INTERNAL"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrBusinessRule  = &Error{Kind: KindBusinessRule}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrFormula       = &Error{Kind: KindFormula}
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the structured failure returned by every service.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels above work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(format string, args ...any) error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(entity, id string) error {
	return newError(KindNotFound, nil, "%s not found: %s", entity, id)
}

func Conflictf(format string, args ...any) error {
	return newError(KindConflict, nil, format, args...)
}

func BusinessRulef(format string, args ...any) error {
	return newError(KindBusinessRule, nil, format, args...)
}

func Configurationf(format string, args ...any) error {
	return newError(KindConfiguration, nil, format, args...)
}

// FormulaError wraps an evaluation failure for the named type or rule.
func FormulaError(code string, err error) error {
	return newError(KindFormula, err, "formula for %s cannot be evaluated", code)
}

// Internal wraps a store or infrastructure failure.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(KindInternal, err, "%s", op)
}

// DuplicateCuotaError reports a second cuota for the same person and period.
type DuplicateCuotaError struct {
	PersonID   PersonID
	Period     Period
	ExistingID CuotaID
}

func (e *DuplicateCuotaError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("cuota already exists for %s in %s (cuota: %s)", e.PersonID, e.Period, e.ExistingID)
	}
	return fmt.Sprintf("cuota already exists for %s in %s", e.PersonID, e.Period)
}

func (e *DuplicateCuotaError) Unwrap() error { return ErrConflict }

// InvalidTransitionError reports a lifecycle transition that is not allowed
// from the current state.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrBusinessRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind carried by err, or INTERNAL.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true if the error is due to the caller's input
// rather than the system's state.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindBusinessRule:
		return true
	}
	return false
}

// IsPerRecord returns true for failures a batch run isolates to one person.
func IsPerRecord(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindFormula, KindConflict, KindNotFound:
		return true
	}
	return false
}
