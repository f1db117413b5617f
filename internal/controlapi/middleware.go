package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
)

// RequestLogger logs the completion of each request with structured fields.
// It also injects a request-scoped logger carrying the request id, so
// handlers pulling logger.FromContext correlate automatically.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())
		log := logger.FromContext(r.Context()).With(slog.String("request_id", reqID))
		r = r.WithContext(logger.WithContext(r.Context(), log))

		// Wrap the ResponseWriter to capture the status code.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		// Info for success, Warn for 4xx, Error for 5xx.
		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(r.Context(), level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", duration.String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// metricsMiddleware records the Prometheus request counter and latency
// histogram. The route pattern ("/api/v1/campaigns/{campaignID}") is used
// instead of the raw path to keep label cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		observability.ControlPlaneReqDuration.
			WithLabelValues(r.Method, pattern).
			Observe(time.Since(start).Seconds())
		observability.ControlPlaneReqTotal.
			WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).
			Inc()
	})
}

// authenticateAPIKey validates the X-API-Key header against the configured
// SHA-256 hash. The comparison is constant-time over the hex digests so the
// check leaks no timing information about the key.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing API key",
			})
			return
		}

		sum := sha256.Sum256([]byte(key))
		digest := hex.EncodeToString(sum[:])

		if subtle.ConstantTimeCompare([]byte(digest), []byte(a.apiKeyHash)) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid api key",
				slog.String("remote_ip", r.RemoteAddr))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
