// Package apperrors defines the closed set of domain error kinds understood
// by the error-handling middleware. Every failure surfaced to a client is
// either one of these kinds or falls through to a generic internal error.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type Kind int

const (
	KindValidation Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidState
	KindTimeout
	KindUnsupported
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

// Status maps each kind to its one and only HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindBadRequest, KindInvalidState:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) Title() string {
	switch k {
	case KindValidation:
		return "Validation Failed"
	case KindBadRequest:
		return "Bad Request"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "Resource Not Found"
	case KindConflict:
		return "Conflict"
	case KindInvalidState:
		return "Invalid Operation"
	case KindTimeout:
		return "Request Timeout"
	case KindUnsupported:
		return "Not Implemented"
	default:
		return "Internal Server Error"
	}
}

// Error is a tagged domain error. Only the fields relevant to its Kind are set.
type Error struct {
	Kind    Kind
	Message string

	Fields     map[string][]string // validation: field -> messages
	Resource   string              // not_found, conflict, forbidden
	ResourceID string              // not_found
	Reason     string              // conflict
	Action     string              // forbidden
	Field      string              // bad_request hint
	Expected   string              // bad_request hint

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func NewValidation(fields map[string][]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "One or more validation errors occurred",
		Fields:  fields,
	}
}

func NewBadRequest(message, field, expected string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Field: field, Expected: expected}
}

func NewUnauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NewForbidden(resource, action string) *Error {
	return &Error{
		Kind:     KindForbidden,
		Message:  fmt.Sprintf("You do not have permission to %s %s", action, resource),
		Resource: resource,
		Action:   action,
	}
}

func NewNotFound(resource, id string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s with id %s was not found", resource, id),
		Resource:   resource,
		ResourceID: id,
	}
}

func NewConflict(resource, reason string) *Error {
	return &Error{
		Kind:     KindConflict,
		Message:  fmt.Sprintf("Conflict on %s: %s", resource, reason),
		Resource: resource,
		Reason:   reason,
	}
}

// NewInsufficientStock is the order engine's stock violation. It is a
// conflict over the product's current availability.
func NewInsufficientStock(productName string, available, requested int) *Error {
	return NewConflict("product",
		fmt.Sprintf("insufficient stock for %q: requested %d, available %d", productName, requested, available))
}

func NewInvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

func NewTimeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func NewUnsupported(message string) *Error {
	return &Error{Kind: KindUnsupported, Message: message}
}

// NewInternal wraps an infrastructure failure. The message is for the server
// log; clients always receive a generic detail for this kind.
func NewInternal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// FromBinding converts a gin binding failure into the taxonomy: validator
// tag failures become a field map, anything else (malformed JSON, wrong
// types) becomes a bad request.
func FromBinding(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = append(fields[fe.Field()], bindingMessage(fe))
		}
		return NewValidation(fields)
	}
	return NewBadRequest("Request body could not be parsed", "", "valid JSON matching the documented schema")
}

func bindingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
