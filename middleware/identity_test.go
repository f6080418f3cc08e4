package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/jwt"
)

func newTestVerifier(t *testing.T) *jwt.Manager {
	t.Helper()
	mgr, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	return mgr
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{"remote host", "192.0.2.1:1234", "", false, "192.0.2.1"},
		{"xff ignored without trust", "192.0.2.1:1234", "203.0.113.9", false, "192.0.2.1"},
		{"xff first hop", "192.0.2.1:1234", "203.0.113.9, 10.0.0.1", true, "203.0.113.9"},
		{"blank xff", "192.0.2.1:1234", " , 10.0.0.1", true, "192.0.2.1"},
		{"no port", "192.0.2.7", "", false, "192.0.2.7"},
		{"nothing", "", "", true, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trust))
		})
	}
}

func TestIdentityResolvesCaller(t *testing.T) {
	mgr := newTestVerifier(t)
	access, err := mgr.Issue("acct-7", jwt.KindAccess)
	require.NoError(t, err)
	refresh, err := mgr.Issue("acct-7", jwt.KindRefresh)
	require.NoError(t, err)

	tests := []struct {
		name    string
		auth    string
		wantKey string
	}{
		{"anonymous", "", "ip:192.0.2.1"},
		{"access token", "Bearer " + access, "u:acct-7"},
		{"lowercase scheme", "bearer " + access, "u:acct-7"},
		{"refresh token is not identity", "Bearer " + refresh, "ip:192.0.2.1"},
		{"garbage", "Bearer not-a-jwt", "ip:192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Caller
			h := Identity(IdentityConfig{Verifier: mgr})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = CallerFrom(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:999"
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code, "identity never rejects")
			assert.Equal(t, tt.wantKey, got.Key())
		})
	}
}

func TestRequireAccess(t *testing.T) {
	mgr := newTestVerifier(t)
	access, err := mgr.Issue("acct-7", jwt.KindAccess)
	require.NoError(t, err)
	refresh, err := mgr.Issue("acct-7", jwt.KindRefresh)
	require.NoError(t, err)

	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var subject string
	protected := RequireAccess(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		subject = claims.Subject
	}))
	h := Normalize(NormalizeConfig{Logger: discard})(protected)

	tests := []struct {
		name    string
		auth    string
		status  int
		message string
	}{
		{"valid", "Bearer " + access, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "Missing bearer token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Missing bearer token"},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized, "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "acct-7", subject)
				return
			}
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			body := decodeEnvelope(t, rec.Body)
			assert.Equal(t, apierr.CodeUnauthorized, body.Code)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestRequireAccessReusesIdentityClaims(t *testing.T) {
	mgr := newTestVerifier(t)
	access, err := mgr.Issue("acct-9", jwt.KindAccess)
	require.NoError(t, err)

	called := false
	h := Identity(IdentityConfig{Verifier: mgr})(RequireAccess(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestCORS(t *testing.T) {
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := Normalize(NormalizeConfig{Logger: discard})(CORS(CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("allowed preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/things", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
	})

	t.Run("disallowed preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/things", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("disallowed simple request passes without headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestAllowMethodsAndNotFound(t *testing.T) {
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := Normalize(NormalizeConfig{Logger: discard})(AllowMethods(http.MethodPost)(NotFound()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.Equal(t, apierr.CodeMethodNotAllowed, decodeEnvelope(t, rec.Body).Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Resource not found", decodeEnvelope(t, rec.Body).Message)
}
