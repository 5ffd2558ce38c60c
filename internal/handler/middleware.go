package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/pkg/metrics"
)

// Admin request headers.
const (
	HeaderAdminKey = "X-Admin-Key"
	HeaderAdminID  = "X-Admin-ID"
)

type adminIDKey struct{}

// AdminID returns the operator ID set by AdminMiddleware.
func AdminID(ctx context.Context) int64 {
	id, _ := ctx.Value(adminIDKey{}).(int64)
	return id
}

// AdminPolicy tells operators apart from everyone else.
type AdminPolicy interface {
	IsAdmin(userID int64) bool
}

// AdminMiddleware checks the shared admin key and that X-Admin-ID names an
// operator. Finer permissions are checked by the services.
func AdminMiddleware(apiKey string, policy AdminPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeError(w, r, apperrors.New(apperrors.ErrForbidden, "admin key not configured", nil))
				return
			}
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(HeaderAdminKey)), []byte(apiKey)) != 1 {
				log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Invalid admin key")
				writeError(w, r, apperrors.New(apperrors.ErrUnauthorized, "invalid admin key", nil))
				return
			}
			id, err := strconv.ParseInt(r.Header.Get(HeaderAdminID), 10, 64)
			if err != nil {
				writeError(w, r, apperrors.New(apperrors.ErrUnauthorized, "X-Admin-ID header is required", err))
				return
			}
			if !policy.IsAdmin(id) {
				log.Warn().Int64("admin_id", id).Str("path", r.URL.Path).Msg("Non-admin attempted admin request")
				writeError(w, r, apperrors.New(apperrors.ErrForbidden, "admin privileges required", nil))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminIDKey{}, id)))
		})
	}
}

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Handled request")
	})
}

// MetricsMiddleware records latency per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RequestLatency.WithLabelValues(route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}

// RecoveryMiddleware turns panics into 500 responses.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Recovered from panic in handler")
				writeError(w, r, apperrors.New(apperrors.ErrInternal, "internal error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
