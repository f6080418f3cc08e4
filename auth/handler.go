package auth

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/middleware"
)

// Handler exposes a Service over HTTP. Every route reports failures through
// the error normalizer.
type Handler struct {
	svc *Service
}

// NewHandler returns the HTTP surface of svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type accountView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Signup handles POST /api/v1/auth/signup.
func (h *Handler) Signup() http.Handler {
	return middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req credentials
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
		_, pair, err := h.svc.Signup(r.Context(), req.Email, req.Password)
		if err != nil {
			return APIError(err)
		}
		return writeJSON(w, http.StatusCreated, pair)
	})
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login() http.Handler {
	return middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req credentials
		if err := decodeJSON(r, &req); err != nil {
			return err
		}

		v := &apierr.ValidationError{}
		if req.Email == "" {
			v.Add("email", "value_error.missing", "field required")
		}
		if req.Password == "" {
			v.Add("password", "value_error.missing", "field required")
		}
		if err := v.OrNil(); err != nil {
			return err
		}

		pair, err := h.svc.Login(r.Context(), req.Email, req.Password, callerIP(r))
		if err != nil {
			return APIError(err)
		}
		return writeJSON(w, http.StatusOK, pair)
	})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *Handler) Refresh() http.Handler {
	return middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
		if req.RefreshToken == "" {
			v := &apierr.ValidationError{}
			v.Add("refresh_token", "value_error.missing", "field required")
			return v
		}

		pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			return APIError(err)
		}
		return writeJSON(w, http.StatusOK, pair)
	})
}

// Me handles GET /api/v1/auth/me. It must sit behind middleware.RequireAccess.
func (h *Handler) Me() http.Handler {
	return middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		claims, ok := middleware.ClaimsFromContext(r.Context())
		if !ok {
			return apierr.Unauthorized("Missing bearer token")
		}
		acct, err := h.svc.Account(r.Context(), claims.Subject)
		if err != nil {
			return APIError(err)
		}
		return writeJSON(w, http.StatusOK, accountView{
			ID:        acct.ID,
			Email:     acct.Email,
			CreatedAt: acct.CreatedAt,
			LastLogin: acct.LastLogin,
		})
	})
}

func callerIP(r *http.Request) string {
	if c, ok := middleware.CallerFrom(r.Context()); ok {
		return c.IP
	}
	return middleware.ClientIP(r, false)
}

// decodeJSON reads a single JSON object. Oversized bodies surface as
// *http.MaxBytesError so the normalizer answers 413.
func decodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return apierr.BadRequest("Content-Type must be application/json")
		}
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return tooLarge
		case errors.Is(err, io.EOF):
			return apierr.BadRequest("Request body is required")
		default:
			return apierr.BadRequest("Malformed JSON body").Wrap(err)
		}
	}
	if dec.More() {
		return apierr.BadRequest("Request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
