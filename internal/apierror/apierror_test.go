package apierror

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAPIErrorMessage(t *testing.T) {
	err := NewAPIError(ErrAlreadyProcessed, "payout already executed for round 2", nil)
	assert.Equal(t, "ALREADY_PROCESSED: payout already executed for round 2", err.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		code   ErrorCode
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrAlreadyProcessed, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrNotAuthorized, http.StatusForbidden},
		{ErrInsufficientData, http.StatusPreconditionFailed},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrGateway, http.StatusBadGateway},
		{ErrInternalServer, http.StatusInternalServerError},
	}

	for _, c := range cases {
		err := NewAPIError(c.code, "msg", nil)
		assert.Equal(t, c.status, MapErrorToHTTPStatus(err), string(c.code))
	}

	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain error")))
}

func TestHasCode(t *testing.T) {
	err := NewAPIError(ErrInsufficientData, "missing contributions", nil)
	assert.True(t, HasCode(err, ErrInsufficientData))
	assert.False(t, HasCode(err, ErrNotFound))

	wrapped := errors.Wrap(err, "executing payout")
	assert.True(t, HasCode(wrapped, ErrInsufficientData))
}
