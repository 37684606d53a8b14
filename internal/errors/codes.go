package errors

import "net/http"

// ErrorCode represents the type of error
type ErrorCode string

// HTTP API error codes
const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrValidation     ErrorCode = "VALIDATION_ERROR"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// Relay event rejection reasons. These never leave the server; they are logged
// and counted when an inbound event is ignored.
const (
	ErrMalformedEvent   ErrorCode = "MALFORMED_EVENT"
	ErrUnknownEvent     ErrorCode = "UNKNOWN_EVENT"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrContentTooLarge  ErrorCode = "CONTENT_TOO_LARGE"
	ErrIdentityRejected ErrorCode = "IDENTITY_REJECTED"
)

// StatusCodeMap maps ErrorCode to HTTP status code
var StatusCodeMap = map[ErrorCode]int{
	ErrNotFound:       http.StatusNotFound,
	ErrBadRequest:     http.StatusBadRequest,
	ErrValidation:     http.StatusUnprocessableEntity,
	ErrInternalError:  http.StatusInternalServerError,
	ErrServiceUnavail: http.StatusServiceUnavailable,
}

// StatusCode returns the HTTP status code for this error code
func (e ErrorCode) StatusCode() int {
	if code, ok := StatusCodeMap[e]; ok {
		return code
	}
	return http.StatusInternalServerError
}
