package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := UnknownProvider("twitter")
	assert.Contains(t, err.Error(), "unknown_provider")
	assert.Contains(t, err.Error(), "twitter")

	wrapped := InternalError("boom", fmt.Errorf("root cause"))
	assert.Contains(t, wrapped.Error(), "root cause")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := InternalError("boom", cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestWithContext(t *testing.T) {
	err := ValidationError("bad input").WithContext("field", "name")
	assert.Equal(t, "name", err.Context["field"])
	assert.Contains(t, err.Error(), "field=name")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{UnknownProvider("x"), http.StatusNotFound},
		{NotFoundError("channel"), http.StatusNotFound},
		{MissingExternalURL("x"), http.StatusBadRequest},
		{InvalidState(), http.StatusBadRequest},
		{NotEnoughScopes("reason"), http.StatusBadRequest},
		{ValidationError("bad"), http.StatusBadRequest},
		{QuotaExceeded("full"), http.StatusConflict},
		{PaymentRequired("trial"), http.StatusPreconditionFailed},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{ConfigError("bad config"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(InvalidState(), ErrTypeInvalidState))
	assert.False(t, IsType(InvalidState(), ErrTypeQuotaExceeded))
	assert.False(t, IsType(nil, ErrTypeInvalidState))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeInternal))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeNotEnoughScopes, GetType(NotEnoughScopes("r")))
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestNotEnoughScopes_CarriesLiteralReason(t *testing.T) {
	err := NotEnoughScopes("invalid_grant")
	assert.Equal(t, "invalid_grant", err.Message)
}
