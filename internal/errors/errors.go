package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Details string    `json:"details,omitempty"`
	Status  int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *APIError {
	return &APIError{
		Code:    ErrBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// ValidationError creates a VALIDATION_ERROR
func ValidationError(field, message string) *APIError {
	return &APIError{
		Code:    ErrValidation,
		Message: message,
		Field:   field,
		Status:  http.StatusUnprocessableEntity,
	}
}

// ServiceUnavailable creates a SERVICE_UNAVAILABLE error
func ServiceUnavailable(service string) *APIError {
	return &APIError{
		Code:    ErrServiceUnavail,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
		Status:  http.StatusServiceUnavailable,
	}
}

// WithDetails adds additional details to an error
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// RelayError explains why an inbound event was ignored.
type RelayError struct {
	Code  ErrorCode
	Event string
	Err   error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Event, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Event)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Malformed reports an event whose payload has the wrong shape.
func Malformed(event string, err error) *RelayError {
	return &RelayError{Code: ErrMalformedEvent, Event: event, Err: err}
}

// UnknownEvent reports an event type the relay does not handle.
func UnknownEvent(event string) *RelayError {
	return &RelayError{Code: ErrUnknownEvent, Event: event}
}

// RateLimited reports an event dropped by the per-connection limiter.
func RateLimited(event string) *RelayError {
	return &RelayError{Code: ErrRateLimited, Event: event}
}

// ContentTooLarge reports a chat message whose content exceeds the configured limit.
func ContentTooLarge(size, limit int) *RelayError {
	return &RelayError{
		Code:  ErrContentTooLarge,
		Event: "message",
		Err:   fmt.Errorf("content is %d bytes, limit is %d", size, limit),
	}
}

// IdentityRejected reports an identify refused by the identity verifier.
func IdentityRejected(err error) *RelayError {
	return &RelayError{Code: ErrIdentityRejected, Event: "identify", Err: err}
}

// CodeOf returns the relay code carried by err, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var re *RelayError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}
