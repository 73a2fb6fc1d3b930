package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fixit/internal/common"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderError(t *testing.T, err error) (*httptest.ResponseRecorder, common.ErrorResponse, string) {
	t.Helper()
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Response().Header().Set(echo.HeaderXRequestID, "req-42")

	HTTPErrorHandler(logger)(err, c)

	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body, logs.String()
}

func TestHTTPErrorHandler_ValidationCarriesFields(t *testing.T) {
	err := common.Validation("title is required", common.FieldError{Field: "title", Reason: "required"})
	rec, body, logs := renderError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, common.KindValidation, body.Kind)
	assert.Equal(t, "title is required", body.Message)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "title", body.Errors[0].Field)
	assert.Equal(t, "req-42", body.CorrelationID)
	assert.Empty(t, logs)
}

func TestHTTPErrorHandler_KindsMapToStatus(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"forbidden": {common.Forbidden("not a manager"), http.StatusForbidden},
		"not found": {common.NotFound("request"), http.StatusNotFound},
		"conflict":  {common.Conflict("email already exists", nil), http.StatusConflict},
		"state":     {common.StateError("cannot complete a new request"), http.StatusUnprocessableEntity},
		"echo 404":  {echo.ErrNotFound, http.StatusNotFound},
		"echo 413":  {echo.ErrStatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, body, _ := renderError(t, tc.err)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.want, body.Status)
		})
	}
}

func TestHTTPErrorHandler_HidesInternalDetails(t *testing.T) {
	rec, body, logs := renderError(t, errors.New("pq: relation \"requests\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, common.KindInternal, body.Kind)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, rec.Body.String(), "does not exist")
	assert.NotContains(t, body.Message, "pq:")
	assert.Contains(t, logs, "req-42")
}

func TestHTTPErrorHandler_ExternalDependency(t *testing.T) {
	rec, body, _ := renderError(t, common.External("blob store unreachable", errors.New("dial tcp: refused")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, common.KindExternalDependency, body.Kind)
	assert.NotContains(t, body.Message, "dial tcp")
}
