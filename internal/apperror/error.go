package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers; the user-facing message depends on it.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotEligible       Kind = "not_eligible"
	KindStaleState        Kind = "stale_state"
	KindNoApproversFound  Kind = "no_approvers_found"
	KindSpreadsheetFormat Kind = "spreadsheet_format"
	KindLockTimeout       Kind = "lock_timeout"
	KindScopeBlocked      Kind = "scope_blocked"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal_error"
)

var codes = map[Kind]string{
	KindValidation:        "CSE-4001",
	KindNotEligible:       "CSE-4003",
	KindNotFound:          "CSE-4004",
	KindStaleState:        "CSE-4009",
	KindSpreadsheetFormat: "CSE-4022",
	KindScopeBlocked:      "CSE-4023",
	KindNoApproversFound:  "SSE-2001",
	KindLockTimeout:       "SSE-5009",
	KindInternal:          "SSE-5000",
}

// Error is the service-level error; Message is safe to show to a user, Err is the internal cause.
type Error struct {
	Kind    Kind           `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches diagnostic details (e.g. mismatch samples) and returns e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: codes[kind], Message: msg, Err: cause}
}

func Validation(msg string) *Error {
	return newError(KindValidation, msg, nil)
}

func NotEligible(msg string) *Error {
	return newError(KindNotEligible, msg, nil)
}

func StaleState(msg string) *Error {
	return newError(KindStaleState, msg, nil)
}

func NoApproversFound(msg string) *Error {
	return newError(KindNoApproversFound, msg, nil)
}

func SpreadsheetFormat(msg string, cause error) *Error {
	return newError(KindSpreadsheetFormat, msg, cause)
}

func LockTimeout(msg string) *Error {
	return newError(KindLockTimeout, msg, nil)
}

func ScopeBlocked(msg string) *Error {
	return newError(KindScopeBlocked, msg, nil)
}

func NotFound(msg string, cause error) *Error {
	return newError(KindNotFound, msg, cause)
}

// Internal wraps an unexpected failure; the cause is for logs only.
func Internal(cause error) *Error {
	return newError(KindInternal, "something went wrong, please try again later", cause)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// From converts any error into an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// HTTPStatus maps a kind onto the status code used by the HTTP handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotEligible:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStaleState, KindLockTimeout:
		return http.StatusConflict
	case KindSpreadsheetFormat:
		return http.StatusUnprocessableEntity
	case KindScopeBlocked:
		return http.StatusLocked
	case KindNoApproversFound:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
