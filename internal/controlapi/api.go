package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/experiment"
	"github.com/rcabral/switchyard/internal/rules"
	"github.com/rcabral/switchyard/internal/store"
)

// API is the main struct that holds dependencies and the router for the
// control plane. It follows the Dependency Injection pattern to facilitate
// testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// campaigns is the data access layer for campaign documents.
	// The interface type allows mocking in unit tests.
	campaigns store.CampaignRepository

	// translations resolves localized content for winner promotion.
	translations experiment.TranslationSource

	// snapshots publishes updated campaigns to the router fleet.
	snapshots cache.SnapshotService

	// registry is the rule type catalog used to validate targeting rules.
	registry *rules.Registry

	// clock drives lifecycle transitions; injected so tests are reproducible.
	clock experiment.Clock

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
func NewAPI(
	campaigns store.CampaignRepository,
	translations experiment.TranslationSource,
	snapshots cache.SnapshotService,
	apiKeyHash string,
) *API {
	return NewAPIWithConfig(campaigns, translations, snapshots, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication. Primarily used in tests to disable the API key check.
//
// Panics if:
//   - campaigns, translations or snapshots are nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(
	campaigns store.CampaignRepository,
	translations experiment.TranslationSource,
	snapshots cache.SnapshotService,
	apiKeyHash string,
	skipAuth bool,
) *API {
	// An interface is only nil if it has no underlying type and no value.
	if campaigns == nil {
		panic("controlapi: campaign repository cannot be nil")
	}
	if translations == nil {
		panic("controlapi: translation source cannot be nil")
	}
	if snapshots == nil {
		panic("controlapi: snapshot service cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:       chi.NewRouter(),
		campaigns:    campaigns,
		translations: translations,
		snapshots:    snapshots,
		registry:     rules.DefaultRegistry(),
		clock:        experiment.SystemClock{},
		apiKeyHash:   apiKeyHash,
		skipAuth:     skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Recoverer: prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Metrics: records Prometheus request counters and latency histograms.
	a.Router.Use(metricsMiddleware)
	// Content-Type: forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// Public routes (no authentication required).
	a.Router.Get("/health", a.handleHealthCheck)

	// Protected API V1 routes.
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		// Static rule type catalog, consumed by the segment editor.
		r.Get("/rule-types", a.handleListRuleTypes)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", a.handleCreateCampaign)
			r.Get("/", a.handleListCampaigns)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", a.handleGetCampaign)
				r.Patch("/", a.handleUpdateCampaign)
				r.Delete("/", a.handleDeleteCampaign)

				r.Route("/segments", func(r chi.Router) {
					r.Post("/", a.handleCreateSegment)

					r.Route("/{segmentID}", func(r chi.Router) {
						r.Patch("/", a.handleUpdateSegment)
						r.Delete("/", a.handleDeleteSegment)

						r.Route("/rules", func(r chi.Router) {
							r.Post("/", a.handleAddRule)
							r.Put("/{ruleID}", a.handleUpdateRule)
							r.Delete("/{ruleID}", a.handleRemoveRule)
						})

						r.Route("/test", func(r chi.Router) {
							r.Post("/", a.handleCreateTest)
							r.Patch("/", a.handleUpdateTest)
							r.Delete("/", a.handleDeleteTest)

							r.Route("/variants", func(r chi.Router) {
								r.Post("/", a.handleAddVariant)
								r.Patch("/{variantID}", a.handleUpdateVariant)
								r.Delete("/{variantID}", a.handleRemoveVariant)
							})

							r.Post("/actions", a.handleTestAction)
							r.Post("/winner", a.handlePromoteWinner)
						})
					})
				})
			})
		})
	})
}

// handleHealthCheck reports HTTP serving capability. Deep dependency checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// handleListRuleTypes returns the rule type definitions in registry order so
// the editor can build its rule pickers without hardcoding the catalog.
func (a *API) handleListRuleTypes(w http.ResponseWriter, r *http.Request) {
	ids := a.registry.IDs()
	defs := make([]*rules.RuleTypeDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := a.registry.Lookup(id)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{"data": defs})
}
