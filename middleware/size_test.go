package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goShield/apierr"
)

func sizeChain(cfg SizeConfig, inner http.Handler) http.Handler {
	n := Normalize(NormalizeConfig{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))})
	return n(RequestSize(cfg)(inner))
}

func TestRequestSizeRejectsDeclaredLengthBeforeHandler(t *testing.T) {
	called := false
	h := sizeChain(SizeConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("x"))
	req.ContentLength = 11_000_000
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called, "handler must not run")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body := decodeEnvelope(t, rec.Body)
	assert.Equal(t, apierr.CodeRequestTooLarge, body.Code)
	assert.Equal(t, "Request body too large. Maximum size is 10.0MB", body.Message)
	assert.EqualValues(t, DefaultMaxBodyBytes, body.Details["max_size_bytes"])
	assert.EqualValues(t, 11_000_000, body.Details["received_size_bytes"])
}

func TestRequestSizeAllowsBodyAtLimit(t *testing.T) {
	h := sizeChain(SizeConfig{MaxBodyBytes: 16}, HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("a", 16))))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.Repeat("a", 16), rec.Body.String())
}

func TestRequestSizeCapsUnknownLength(t *testing.T) {
	h := sizeChain(SizeConfig{MaxBodyBytes: 16}, HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		_, err := io.ReadAll(r.Body)
		return err
	}))

	req := httptest.NewRequest(http.MethodPost, "/echo", io.NopCloser(strings.NewReader(strings.Repeat("b", 64))))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apierr.CodeRequestTooLarge, decodeEnvelope(t, rec.Body).Code)
}

func TestRequestSizeExemptPath(t *testing.T) {
	called := false
	h := sizeChain(SizeConfig{MaxBodyBytes: 4, Exempt: []string{"/health"}}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/health", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
