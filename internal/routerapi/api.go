// Package routerapi implements the HTTP data plane: the visitor decision
// endpoint served at the edge.
//
// The hot path never touches PostgreSQL. Campaign snapshots are read through
// a two-level cache: an in-process L1 (otter) in front of the shared Redis L2
// written by the syncer and the control plane. Pub/Sub invalidation keeps the
// L1 fresh within one round trip of a campaign edit.
package routerapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/routing"
	"github.com/rcabral/switchyard/internal/rules"
)

// API holds the router's dependencies and HTTP mux.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// l1 is the in-process snapshot cache.
	l1 *cache.MemoryCache

	// l2 is the shared Redis snapshot store.
	l2 cache.SnapshotService

	// decider runs segment resolution and traffic allocation.
	decider *routing.Router

	// registry compiles rule values when a snapshot is pulled from L2.
	registry *rules.Registry

	logger *slog.Logger
}

// NewAPI wires the decision endpoint. Panics on nil caches; a nil logger
// defaults to slog.Default().
func NewAPI(l1 *cache.MemoryCache, l2 cache.SnapshotService, log *slog.Logger) *API {
	if l1 == nil {
		panic("routerapi: l1 cache cannot be nil")
	}
	if l2 == nil {
		panic("routerapi: l2 snapshot service cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	reg := rules.DefaultRegistry()
	api := &API{
		Router:   chi.NewRouter(),
		l1:       l1,
		l2:       l2,
		decider:  routing.NewRouter(reg, nil, log),
		registry: reg,
		logger:   log,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers middleware and the decision endpoint. The stack
// is deliberately thinner than the control plane's: no per-request Info logs
// on a path that runs once per visitor.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestContext)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(metricsMiddleware)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)
	a.Router.Post("/v1/decide", a.handleDecide)
}

// requestContext injects a request-scoped logger carrying the request id.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := a.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

// metricsMiddleware records the router request counter and latency histogram
// using the route pattern to bound label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		observability.RouterReqDuration.
			WithLabelValues(r.Method, pattern).
			Observe(time.Since(start).Seconds())
		observability.RouterReqTotal.
			WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).
			Inc()
	})
}

// handleHealthCheck reports HTTP serving capability.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
