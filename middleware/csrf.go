package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/internal"
	"github.com/MrEthical07/goShield/internal/audit"
)

// CSRFConfig controls the double-submit cookie guard.
type CSRFConfig struct {
	CookieName string
	HeaderName string
	// FormField is read from application/x-www-form-urlencoded bodies when
	// the header is absent.
	FormField string
	TTL       time.Duration
	Secure    bool
	SameSite  http.SameSite
	Path      string
	Exempt    []string
	Logger    *slog.Logger
	Events    audit.Sink
	// NewToken mints tokens. nil means 256 bits from crypto/rand.
	NewToken func() (string, error)
}

func (c CSRFConfig) withDefaults() CSRFConfig {
	if c.CookieName == "" {
		c.CookieName = "csrf_token"
	}
	if c.HeaderName == "" {
		c.HeaderName = "X-CSRF-Token"
	}
	if c.FormField == "" {
		c.FormField = "csrf_token"
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteStrictMode
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Events == nil {
		c.Events = audit.NoOpSink{}
	}
	if c.NewToken == nil {
		c.NewToken = internal.NewCSRFToken
	}
	return c
}

// CSRF verifies that state-changing requests echo the token held in the
// CSRF cookie. It is stateless: the cookie is the only copy of the token.
type CSRF struct {
	cfg    CSRFConfig
	exempt map[string]struct{}
}

// NewCSRF returns a guard with defaults applied to cfg.
func NewCSRF(cfg CSRFConfig) *CSRF {
	cfg = cfg.withDefaults()
	return &CSRF{cfg: cfg, exempt: pathSet(cfg.Exempt)}
}

type csrfTokenKey struct{}

// CSRFToken returns the token in effect for the request: the cookie value,
// or the token minted for it by the guard.
func CSRFToken(r *http.Request) string {
	tok, _ := r.Context().Value(csrfTokenKey{}).(string)
	return tok
}

func isProtectedMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware enforces the guard on next.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := c.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		cookieToken := c.cookieValue(r)

		if !isProtectedMethod(r.Method) {
			if cookieToken == "" && r.Method == http.MethodGet {
				minted, err := c.cfg.NewToken()
				if err != nil {
					Fail(w, r, fmt.Errorf("mint csrf token: %w", err))
					return
				}
				c.setCookie(w, minted)
				cookieToken = minted
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfTokenKey{}, cookieToken)))
			return
		}

		if cookieToken == "" {
			c.reject(w, r, apierr.CodeCSRFTokenMissing, "CSRF token missing from cookie", "missing_cookie")
			return
		}

		submitted := r.Header.Get(c.cfg.HeaderName)
		if submitted == "" {
			var err error
			submitted, err = c.formValue(r)
			if err != nil {
				Fail(w, r, err)
				return
			}
		}
		if submitted == "" {
			c.reject(w, r, apierr.CodeCSRFTokenMissing,
				fmt.Sprintf("CSRF token missing from %s header or request body", c.cfg.HeaderName), "missing_token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submitted)) != 1 {
			c.reject(w, r, apierr.CodeCSRFTokenInvalid, "CSRF token validation failed", "token_mismatch")
			return
		}

		rw := wrapWriter(w)
		rw.beforeCommit = func(status int) {
			if status >= http.StatusBadRequest {
				return
			}
			rotated, err := c.cfg.NewToken()
			if err != nil {
				// the current token stays valid until its cookie expires
				c.cfg.Logger.ErrorContext(r.Context(), "csrf token rotation failed", "path", r.URL.Path, "error", err)
				return
			}
			c.setCookie(w, rotated)
		}

		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), csrfTokenKey{}, cookieToken)))
		if !rw.Committed() {
			rw.WriteHeader(http.StatusOK)
		}
	})
}

// TokenHandler serves the current token as JSON, minting one when the
// request carries none.
func (c *CSRF) TokenHandler() http.Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		tok := CSRFToken(r)
		if tok == "" {
			tok = c.cookieValue(r)
		}
		if tok == "" {
			minted, err := c.cfg.NewToken()
			if err != nil {
				return fmt.Errorf("mint csrf token: %w", err)
			}
			c.setCookie(w, minted)
			tok = minted
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		return json.NewEncoder(w).Encode(map[string]any{
			"csrf_token":  tok,
			"header_name": c.cfg.HeaderName,
			"expires_in":  int(c.cfg.TTL / time.Second),
		})
	})
}

func (c *CSRF) cookieValue(r *http.Request) string {
	cookie, err := r.Cookie(c.cfg.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c *CSRF) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    token,
		Path:     c.cfg.Path,
		MaxAge:   int(c.cfg.TTL / time.Second),
		HttpOnly: false,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	})
}

// formValue reads the token from a urlencoded form body. A body that
// overruns the size ceiling is reported rather than treated as missing.
func (c *CSRF) formValue(r *http.Request) (string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return "", nil
	}
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", tooLarge
		}
		return "", nil
	}
	return r.PostForm.Get(c.cfg.FormField), nil
}

func (c *CSRF) reject(w http.ResponseWriter, r *http.Request, code apierr.Code, message, reason string) {
	c.cfg.Logger.WarnContext(r.Context(), "csrf validation failed",
		"method", r.Method, "path", r.URL.Path, "reason", reason)
	c.cfg.Events.Emit(r.Context(), audit.Event{
		Type:   audit.EventCSRFRejected,
		IP:     remoteHost(r),
		Method: r.Method,
		Path:   r.URL.Path,
		Reason: reason,
	})
	Fail(w, r, apierr.New(http.StatusForbidden, code, message))
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
