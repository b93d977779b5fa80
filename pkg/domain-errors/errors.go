// Package domainerrors provides coded errors that cross module boundaries.
//
// Services translate sentinel (infrastructure) errors and invariant failures
// into coded errors; the HTTP layer maps codes onto status responses. Codes
// are part of the API contract and must stay stable.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and callers that
// branch on failure kind.
type Code string

const (
	// CodeValidation marks malformed input: missing titles, a multiple-choice
	// question with fewer than two options, answers of the wrong shape.
	CodeValidation Code = "validation_failed"
	// CodeBadRequest marks requests that cannot be decoded or are missing
	// required parameters.
	CodeBadRequest Code = "bad_request"
	// CodeStateConflict marks operations rejected by the lifecycle state
	// machine: editing a non-draft run, double activation, double submit.
	CodeStateConflict Code = "state_conflict"
	// CodeNotFound marks a missing admin-facing resource.
	CodeNotFound Code = "not_found"
	// CodeSurveyUnavailable is the deliberately unspecific rejection for the
	// token-based survey flow. Unknown, completed and expired tokens all map
	// here so the endpoint leaks no existence information.
	CodeSurveyUnavailable Code = "survey_unavailable"
	// CodeUnassignedDepartment aborts an activation whose target department
	// has no head assigned in the directory.
	CodeUnassignedDepartment Code = "unassigned_department"
	// CodeSchedule marks an invalid recurrence configuration. Raised at run
	// definition time, never during due-date computation at runtime.
	CodeSchedule Code = "invalid_schedule"
	// CodeIncompleteSurvey rejects a submit while required questions lack
	// answers.
	CodeIncompleteSurvey Code = "incomplete_survey"
	// CodeSessionClosed rejects answer writes after the survey was submitted.
	CodeSessionClosed Code = "session_closed"
	// CodeUnavailable marks a temporarily failing dependency.
	CodeUnavailable Code = "unavailable"
	// CodeInternal is the catch-all for unexpected failures.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Fields optionally names the offending
// request fields or question ids so clients can point at what to fix.
type Error struct {
	Code    Code
	Message string
	Fields  []string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithFields returns a copy of the error annotated with field names.
func (e *Error) WithFields(fields ...string) *Error {
	clone := *e
	clone.Fields = append([]string{}, fields...)
	return &clone
}

// HasCode reports whether err (anywhere in its chain) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldsOf extracts annotated field names from err, if any.
func FieldsOf(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer returns.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeSchedule:
		return http.StatusBadRequest
	case CodeStateConflict, CodeSessionClosed:
		return http.StatusConflict
	case CodeNotFound, CodeSurveyUnavailable:
		return http.StatusNotFound
	case CodeUnassignedDepartment, CodeIncompleteSurvey:
		return http.StatusUnprocessableEntity
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
