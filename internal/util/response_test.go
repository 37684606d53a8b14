package util

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabhub/relay/internal/errors"
)

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", handler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRespondBadRequest(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) {
		RespondBadRequest(c, "bad body", stderrors.New("unexpected EOF"))
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errors.ErrBadRequest), body.Code)
	assert.Equal(t, "bad body", body.Message)
	assert.Equal(t, "unexpected EOF", body.Details)
}

func TestRespondValidationError(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) {
		RespondValidationError(c, "usernames", "too many")
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(errors.ErrValidation), body.Code)
	assert.Equal(t, "usernames", body.Field)
}

func TestRespondWithAPIErrorServerSide(t *testing.T) {
	w, body := serve(t, func(c *gin.Context) {
		RespondWithAPIError(c, errors.ServiceUnavailable("presence store"))
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(errors.ErrServiceUnavail), body.Code)
}
