package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type requestMetaKey struct{}

type requestMeta struct {
	errorID string
}

func setErrorID(r *http.Request, id string) {
	if meta, ok := r.Context().Value(requestMetaKey{}).(*requestMeta); ok {
		meta.errorID = id
	}
}

// RequestLog logs one line per request with status, duration and, when the
// request failed, its error_id. Paths in skip are not logged.
func RequestLog(logger *slog.Logger, skip ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			meta := &requestMeta{}
			rw := wrapWriter(w)
			r = r.WithContext(context.WithValue(r.Context(), requestMetaKey{}, meta))

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			switch {
			case rw.status >= 500:
				level = slog.LevelError
			case rw.status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_written", rw.written,
				"remote_addr", r.RemoteAddr,
			}
			if meta.errorID != "" {
				attrs = append(attrs, "error_id", meta.errorID)
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
