package arbor

import (
	"fmt"
	"runtime/debug"
)

// ErrorKind is the taxonomy from spec.md §7 — a classification, not a Go
// type, so callers switch on Kind rather than type-asserting concrete
// structs.
type ErrorKind string

const (
	ErrDefinitionInvalid       ErrorKind = "definition.invalid"
	ErrRegistrationMissing     ErrorKind = "registration.missing"
	ErrVisibilityViolation     ErrorKind = "visibility.violation"
	ErrDependencyCycle         ErrorKind = "dependency.cycle"
	ErrTaskInput               ErrorKind = "task.input"
	ErrTaskResult              ErrorKind = "task.result"
	ErrResourceConfig          ErrorKind = "resource.config"
	ErrEventPayload            ErrorKind = "event.payload"
	ErrTaskTimeout             ErrorKind = "task.timeout"
	ErrRuntimeAccessViolation  ErrorKind = "runtime.accessViolation"
	ErrEventCycle              ErrorKind = "event.cycle"
	ErrExecutionCancelled      ErrorKind = "execution.cancelled"
	ErrScheduleConfig          ErrorKind = "schedule.config"
	ErrScheduleNoMatch         ErrorKind = "schedule.noMatch"
	ErrSwitchNoMatch           ErrorKind = "switch.noMatch"
	ErrQueueCancelled          ErrorKind = "queue.cancelled"
	ErrOptionalDepMissing      ErrorKind = "optionalDependency.missing"
	ErrOptionalDepInvalidExport ErrorKind = "optionalDependency.invalidExport"
)

// Error is the single concrete error type the runtime raises. Kind
// classifies it; TargetID/OwnerID/RequestingID/Hint carry the remediation
// context spec.md §4.1 requires bootstrap errors to report.
type Error struct {
	Kind         ErrorKind
	TargetID     ID
	OwnerID      ID
	RequestingID ID
	Hint         string
	Cause        error
	Stack        []byte

	// ExportedIDs is populated only on ErrRuntimeAccessViolation: the ids the
	// root resource actually exports, for the remediation payload spec.md §6
	// describes as `{ targetId, rootId, exportedIds[] }`.
	ExportedIDs []ID
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.TargetID)
	if e.OwnerID != "" {
		msg += fmt.Sprintf(" (owner=%s)", e.OwnerID)
	}
	if e.RequestingID != "" {
		msg += fmt.Sprintf(" (requested by=%s)", e.RequestingID)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf(" — %s", e.Hint)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, SomeKind) style checks against a bare ErrorKind
// sentinel by wrapping it in an *Error and comparing Kind.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

func newError(kind ErrorKind, targetID, ownerID, requestingID, hint string) *Error {
	return &Error{
		Kind:         kind,
		TargetID:     targetID,
		OwnerID:      ownerID,
		RequestingID: requestingID,
		Hint:         hint,
		Stack:        debug.Stack(),
	}
}

func wrapError(kind ErrorKind, targetID string, cause error, hint string) *Error {
	return &Error{
		Kind:     kind,
		TargetID: targetID,
		Cause:    cause,
		Hint:     hint,
		Stack:    debug.Stack(),
	}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var ae *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ae = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ae == nil {
		return "", false
	}
	return ae.Kind, true
}
