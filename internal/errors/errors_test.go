package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ErrBadRequest.StatusCode())
	assert.Equal(t, http.StatusUnprocessableEntity, ErrValidation.StatusCode())
	// Relay codes never map to a response
	assert.Equal(t, http.StatusInternalServerError, ErrMalformedEvent.StatusCode())
}

func TestAPIErrorMessage(t *testing.T) {
	err := ValidationError("usernames", "at most 500 usernames")
	assert.Equal(t, "VALIDATION_ERROR: at most 500 usernames (field: usernames)", err.Error())
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)

	err2 := BadRequest("invalid body").WithDetails("EOF")
	assert.Equal(t, "BAD_REQUEST: invalid body", err2.Error())
	assert.Equal(t, "EOF", err2.Details)
}

func TestRelayErrorCodeOf(t *testing.T) {
	cause := fmt.Errorf("payload is a number")
	err := fmt.Errorf("identify: %w", Malformed("identify", cause))

	assert.Equal(t, ErrMalformedEvent, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "MALFORMED_EVENT (identify)")

	assert.Equal(t, ErrorCode(""), CodeOf(cause))
	assert.Equal(t, ErrContentTooLarge, CodeOf(ContentTooLarge(10, 4)))
	assert.Equal(t, "UNKNOWN_EVENT (typing)", UnknownEvent("typing").Error())
}
