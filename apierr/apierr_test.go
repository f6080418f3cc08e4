package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := New(http.StatusForbidden, CodeCSRFTokenMissing, "missing")
	withDetail := base.WithDetail("source", "header")

	assert.Nil(t, base.Details)
	assert.Equal(t, "header", withDetail.Details["source"])
}

func TestAsFindsWrappedError(t *testing.T) {
	cause := errors.New("db down")
	typed := New(http.StatusConflict, CodeConflict, "exists").Wrap(cause)
	wrapped := fmt.Errorf("signup: %w", typed)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, got.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		code   Code
	}{
		{http.StatusBadRequest, CodeBadRequest},
		{http.StatusUnauthorized, CodeUnauthorized},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusTooManyRequests, CodeRateLimitExceeded},
		{http.StatusTeapot, Code("HTTP_418")},
	}
	for _, tt := range tests {
		got := FromStatus(tt.status, "")
		assert.Equal(t, tt.code, got.Code, "status %d", tt.status)
		assert.Equal(t, http.StatusText(tt.status), got.Message)
	}
}

func TestValidationErrorAggregates(t *testing.T) {
	v := &ValidationError{}
	require.NoError(t, v.OrNil())

	v.Add("email", "value_error.email", "invalid email address")
	v.Add("password", "value_error.missing", "field required")

	err := v.OrNil()
	require.Error(t, err)
	assert.Len(t, v.Fields, 2)
	assert.Contains(t, err.Error(), "email: invalid email address")
	assert.Contains(t, err.Error(), "password: field required")
}

func TestEnvelopeShape(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := NewEnvelope(CodeUnauthorized, "nope", nil, "id-1", at)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"UNAUTHORIZED","message":"nope","details":{},"error_id":"id-1","timestamp":"2026-01-02T03:04:05Z"}}`, string(raw))
}
