// Package apperr defines the typed errors services return. The HTTP layer maps
// each Kind to a status code and a stable machine-readable code.
package apperr

import (
	"errors"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	// KindConflict covers stale versions, lost races and runs already in progress.
	KindConflict
	KindUnauthorized
	KindInternal
	// KindStepsIncomplete rejects an advance while required steps are open.
	KindStepsIncomplete
	// KindTerminalStage rejects an advance from the final stage.
	KindTerminalStage
)

var kindMeta = map[Kind]struct {
	status int
	code   string
}{
	KindNotFound:        {http.StatusNotFound, "not_found"},
	KindValidation:      {http.StatusBadRequest, "validation_failed"},
	KindConflict:        {http.StatusConflict, "conflict"},
	KindUnauthorized:    {http.StatusUnauthorized, "unauthorized"},
	KindInternal:        {http.StatusInternalServerError, "internal"},
	KindStepsIncomplete: {http.StatusUnprocessableEntity, "steps_incomplete"},
	KindTerminalStage:   {http.StatusConflict, "terminal_stage"},
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	// Details is echoed to clients, e.g. the missing step ids.
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status for e's kind; unknown kinds are 400.
func (e *Error) HTTPStatus() int {
	if meta, ok := kindMeta[e.Kind]; ok {
		return meta.status
	}
	return http.StatusBadRequest
}

// Code returns the stable code clients switch on.
func (e *Error) Code() string {
	if meta, ok := kindMeta[e.Kind]; ok {
		return meta.code
	}
	return "bad_request"
}

// WithDetails returns the error with additional details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Internal wraps err so the cause is logged while clients see only message.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// StepsIncomplete creates an error listing the required steps that are still open.
func StepsIncomplete(message string, missing interface{}) *Error {
	return New(KindStepsIncomplete, message).WithDetails(missing)
}

func TerminalStage(message string) *Error {
	return New(KindTerminalStage, message)
}

// GetKind extracts the error kind from an error, looking through wrapped errors.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err is (or wraps) an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
