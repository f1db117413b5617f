package routerapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/observability"
	"github.com/rcabral/switchyard/internal/routing"
	"github.com/rcabral/switchyard/internal/rules"
)

// DecideRequest is the payload of POST /v1/decide: which campaign to route
// through, the sticky visitor identity, and the attribute bag the edge
// runtime collected (country, device type, UTM parameters, ...).
type DecideRequest struct {
	CampaignID string           `json:"campaign_id"`
	VisitorID  string           `json:"visitor_id"`
	Attributes rules.Attributes `json:"attributes,omitempty"`
}

// errorResponse mirrors the control plane's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleDecide routes one visitor through a campaign snapshot.
//
// Flow: L1 (otter) -> L2 (Redis) -> routing.Decide.
//
// It returns:
//   - 200 with the routing decision on success.
//   - 404 when the campaign does not exist.
//   - 400 when campaign_id or visitor_id is missing.
//   - 503 when the snapshot store is unreachable, so the edge runtime can
//     fall back to its own default page.
func (a *API) handleDecide(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req DecideRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// Fail fast on client errors; Warn, not Error.
	if req.CampaignID == "" {
		log.Warn("bad request: missing campaign_id")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "campaign_id is required",
		})
		return
	}
	if req.VisitorID == "" {
		log.Warn("bad request: missing visitor_id")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "visitor_id is required",
		})
		return
	}

	log.Debug("routing visitor", slog.String("campaign_id", req.CampaignID))

	snap, found := a.l1.Get(req.CampaignID)
	if !found {
		var err error
		snap, err = a.fetchAndCompile(r, req.CampaignID)
		if err != nil {
			log.Error("failed to fetch campaign snapshot",
				slog.String("campaign_id", req.CampaignID),
				slog.String("error", err.Error()))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{
				Code:    "ERR_SNAPSHOT_UNAVAILABLE",
				Message: "Failed to retrieve campaign configuration",
			})
			return
		}

		if snap == nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Campaign not found",
			})
			return
		}

		// Read-through fill: later requests for this campaign skip Redis.
		a.l1.Set(req.CampaignID, snap)
	}

	decision := a.decider.Decide(snap.Campaign, req.VisitorID, req.Attributes)
	observability.RouterDecisions.WithLabelValues(decision.Reason).Inc()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, decideResponse{
		Decision: decision,
		Version:  snap.Version,
	})
}

// fetchAndCompile pulls a snapshot from L2 and compiles its rule values.
// Compiling once at fill time keeps the per-request path allocation-free for
// cached campaigns.
func (a *API) fetchAndCompile(r *http.Request, campaignID string) (*cache.CampaignSnapshot, error) {
	snap, err := a.l2.GetCampaign(r.Context(), campaignID)
	if err != nil || snap == nil {
		return nil, err
	}
	if err := snap.Campaign.CompileRules(a.registry); err != nil {
		// A rule that fails to compile is skipped at match time; the rest of
		// the campaign still routes.
		logger.FromContext(r.Context()).Warn("snapshot contains uncompilable rules",
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()))
	}
	return snap, nil
}

// decideResponse pairs the decision with the snapshot version it was made
// against, so the edge runtime can correlate decisions with campaign edits.
type decideResponse struct {
	routing.Decision
	Version int64 `json:"snapshot_version"`
}
