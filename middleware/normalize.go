package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/MrEthical07/goShield/apierr"
)

// NormalizeConfig controls the error normalizer.
type NormalizeConfig struct {
	Logger *slog.Logger
	// Debug adds exception_type, exception_message and stack to the details
	// of unexpected errors. Never enable in production.
	Debug bool
	Now   func() time.Time
	// Capture reports 5xx errors. nil sends them to the Sentry hub.
	Capture func(ctx context.Context, err error, errorID string)
}

func (c NormalizeConfig) withDefaults() NormalizeConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Capture == nil {
		c.Capture = captureToSentry
	}
	return c
}

type reporterKey struct{}

type reporter struct {
	cfg NormalizeConfig
	rw  *responseWriter
}

// HandlerFunc is an http handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		Fail(w, r, err)
	}
}

// Normalize is the outermost defense stage. It turns every error reported
// through [Fail] or returned from a [HandlerFunc], and every panic, into one
// JSON envelope carrying a fresh error_id.
func Normalize(cfg NormalizeConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrapWriter(w)
			rep := &reporter{cfg: cfg, rw: rw}
			r = r.WithContext(context.WithValue(r.Context(), reporterKey{}, rep))

			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				rep.report(rw, r, &panicError{value: p, stack: debug.Stack()})
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// Fail reports err for the current request. Without an enclosing [Normalize]
// it still writes an envelope using the default logger.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	rep, ok := r.Context().Value(reporterKey{}).(*reporter)
	if !ok {
		rep = &reporter{cfg: NormalizeConfig{}.withDefaults()}
	}
	rep.report(w, r, err)
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (p *panicError) Unwrap() error {
	err, _ := p.value.(error)
	return err
}

type classified struct {
	status     int
	code       apierr.Code
	message    string
	details    map[string]any
	unexpected bool
}

func classify(err error) classified {
	var verr *apierr.ValidationError
	if errors.As(err, &verr) {
		msg := verr.Message
		if msg == "" {
			msg = "Request validation failed"
		}
		fields := verr.Fields
		if fields == nil {
			fields = []apierr.FieldError{}
		}
		return classified{
			status:  http.StatusUnprocessableEntity,
			code:    apierr.CodeValidation,
			message: msg,
			details: map[string]any{"errors": fields},
		}
	}

	var pe *panicError
	if !errors.As(err, &pe) {
		if typed, ok := apierr.As(err); ok {
			details := make(map[string]any, len(typed.Details))
			for k, v := range typed.Details {
				details[k] = v
			}
			return classified{
				status:  typed.Status,
				code:    typed.Code,
				message: typed.Message,
				details: details,
			}
		}

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return classified{
				status:  http.StatusRequestEntityTooLarge,
				code:    apierr.CodeRequestTooLarge,
				message: fmt.Sprintf("Request body too large. Maximum size is %d bytes", tooLarge.Limit),
				details: map[string]any{"max_size_bytes": tooLarge.Limit},
			}
		}
	}

	return classified{
		status:     http.StatusInternalServerError,
		code:       apierr.CodeInternal,
		message:    apierr.GenericInternalMessage,
		details:    map[string]any{},
		unexpected: true,
	}
}

func (rep *reporter) report(w http.ResponseWriter, r *http.Request, err error) {
	errorID := uuid.NewString()
	c := classify(err)
	setErrorID(r, errorID)

	ctx := r.Context()
	logger := rep.cfg.Logger
	attrs := []any{
		"error_id", errorID,
		"status", c.status,
		"code", string(c.code),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}

	var stack []byte
	if c.unexpected {
		var pe *panicError
		if errors.As(err, &pe) {
			stack = pe.stack
		} else {
			stack = debug.Stack()
		}
		attrs = append(attrs, "exception_type", exceptionType(err), "stack", string(stack))
		if rep.cfg.Debug {
			c.details["exception_type"] = exceptionType(err)
			c.details["exception_message"] = err.Error()
			c.details["stack"] = string(stack)
		}
	}
	if c.status >= http.StatusInternalServerError {
		rep.cfg.Capture(ctx, err, errorID)
	}

	if rep.committed(w) {
		logger.ErrorContext(ctx, "error after response was committed", attrs...)
		return
	}

	level := slog.LevelWarn
	if c.status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "request failed", attrs...)

	env := apierr.NewEnvelope(c.code, c.message, c.details, errorID, rep.cfg.Now())
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(c.status)
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		logger.ErrorContext(ctx, "write error envelope", "error_id", errorID, "error", encErr)
	}
}

func (rep *reporter) committed(w http.ResponseWriter) bool {
	if rep.rw != nil {
		return rep.rw.Committed()
	}
	if c, ok := w.(interface{ Committed() bool }); ok {
		return c.Committed()
	}
	return false
}

// exceptionType names the innermost error (or panic value) type.
func exceptionType(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%T", pe.value)
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func captureToSentry(ctx context.Context, err error, errorID string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	if hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_id", errorID)
		hub.CaptureException(err)
	})
}
