package controlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/experiment"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/rules"
	"github.com/rcabral/switchyard/internal/store"
)

// Sub-resource errors raised by the handlers themselves; renderDomainError
// maps them onto 404 and 409.
var (
	errSegmentNotFound   = errors.New("segment not found")
	errTestNotFound      = errors.New("segment has no test")
	errDuplicateSegment  = errors.New("segment id already exists")
	errDuplicateVariant  = errors.New("variant id already exists")
	errDuplicatePriority = errors.New("segment priority already in use")
	errTestExists        = errors.New("segment already has a test")
	errTestNotDraft      = errors.New("only a draft test can be deleted")
)

// handleCreateCampaign processes POST /api/v1/campaigns.
//
// Responsibilities:
//  1. Decodes the JSON payload into the CreateCampaignRequest DTO.
//  2. Sanitizes and validates the input using the DTO's business logic.
//  3. Converts the DTO to the domain model.
//  4. Persists the campaign using the repository layer.
//  5. Publishes the initial snapshot to the router fleet.
//  6. Returns the created resource with a 201 Created status.
func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateCampaignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderInvalidJSON(w, r, log, err)
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	rec := &store.CampaignRecord{
		Campaign: &campaign.Campaign{
			ID:                    req.ID,
			Name:                  req.Name,
			FallbackLandingPageID: req.FallbackLandingPageID,
			Segments:              []campaign.Segment{},
			UpdatedAt:             time.Now().UTC(),
		},
	}

	if err := a.campaigns.CreateCampaign(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A campaign with this id already exists",
			})
			return
		}

		log.Error("failed to create campaign in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create campaign in database",
		})
		return
	}

	a.notifyCacheAsync(log, rec)

	log.Info("campaign created successfully",
		slog.String("campaign_id", rec.Campaign.ID),
		slog.Int64("version", rec.Version))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapRecordToResponse(rec))
}

// handleListCampaigns processes GET /api/v1/campaigns with offset pagination.
func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	// Silently clamp out-of-bounds values.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100 // hard limit to prevent large queries
	}

	offset := (page - 1) * pageSize

	records, totalItems, err := a.campaigns.ListCampaigns(r.Context(), pageSize, offset)
	if err != nil {
		log.Error("failed to list campaigns from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list campaigns",
		})
		return
	}

	dtos := make([]Campaign, len(records))
	for i, rec := range records {
		dtos[i] = mapRecordToResponse(rec)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetCampaign processes GET /api/v1/campaigns/{campaignID}.
func (a *API) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	rec, err := a.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		a.renderDomainError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRecordToResponse(rec))
}

// handleUpdateCampaign processes PATCH /api/v1/campaigns/{campaignID}:
// name and fallback page edits.
func (a *API) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req UpdateCampaignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderInvalidJSON(w, r, log, err)
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.FallbackLandingPageID != nil {
			c.FallbackLandingPageID = *req.FallbackLandingPageID
		}
		return nil
	})
}

// handleDeleteCampaign processes DELETE /api/v1/campaigns/{campaignID}.
// The stored snapshot is evicted asynchronously so routers stop serving the
// campaign.
func (a *API) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "campaignID")

	if err := a.campaigns.DeleteCampaign(r.Context(), id); err != nil {
		a.renderDomainError(w, r, err)
		return
	}

	a.dropCacheAsync(log, id)

	log.Info("campaign deleted", slog.String("campaign_id", id))
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}

// --- Shared Handler Plumbing ---

// mutateCampaign runs the load-mutate-store cycle shared by every campaign
// sub-resource handler: fetch the document, apply fn, persist it under the
// optimistic version guard, publish the new snapshot, and render the updated
// campaign. fn mutates the document in place; any error it returns aborts the
// cycle before the write.
func (a *API) mutateCampaign(w http.ResponseWriter, r *http.Request, fn func(c *campaign.Campaign) error) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "campaignID")

	rec, err := a.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		a.renderDomainError(w, r, err)
		return
	}

	if err := fn(rec.Campaign); err != nil {
		a.renderDomainError(w, r, err)
		return
	}

	rec.Campaign.UpdatedAt = time.Now().UTC()

	if err := a.campaigns.UpdateCampaign(r.Context(), rec); err != nil {
		a.renderDomainError(w, r, err)
		return
	}

	a.notifyCacheAsync(log, rec)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRecordToResponse(rec))
}

// renderDomainError maps domain and persistence errors onto HTTP statuses
// with the standard error envelope. Unrecognized errors become opaque 500s;
// the original error is logged, never leaked.
func (a *API) renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var notReady *experiment.NotReadyError

	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, errSegmentNotFound),
		errors.Is(err, errTestNotFound),
		errors.Is(err, campaign.ErrRuleNotFound),
		errors.Is(err, campaign.ErrVariantNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: err.Error(),
		})

	case errors.Is(err, store.ErrVersionConflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_VERSION_CONFLICT",
			Message: "The campaign was modified concurrently; reload and retry",
		})

	case errors.Is(err, campaign.ErrFrozen):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_SEGMENT_FROZEN",
			Message: err.Error(),
		})

	case errors.Is(err, campaign.ErrDuplicateRule),
		errors.Is(err, errDuplicateSegment),
		errors.Is(err, errDuplicateVariant),
		errors.Is(err, errDuplicatePriority),
		errors.Is(err, errTestExists),
		errors.Is(err, errTestNotDraft):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_CONFLICT",
			Message: err.Error(),
		})

	case errors.As(err, &notReady):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_TEST_NOT_READY",
			Message: err.Error(),
		})

	case errors.Is(err, campaign.ErrRequiredRule),
		errors.Is(err, campaign.ErrControlVariant),
		errors.Is(err, campaign.ErrVariantFloor),
		errors.Is(err, campaign.ErrVariantCeiling),
		errors.Is(err, rules.ErrUnknownRuleType),
		errors.Is(err, rules.ErrTypeMismatch),
		errors.Is(err, rules.ErrInvalidRange):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: err.Error(),
		})

	default:
		logger.FromContext(r.Context()).Error("unexpected error handling request",
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Internal server error",
		})
	}
}

// renderInvalidJSON is the shared 400 response for undecodable payloads.
func renderInvalidJSON(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	log.Warn("invalid json payload", slog.String("error", err.Error()))
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INVALID_JSON",
		Message: "Invalid JSON payload: " + err.Error(),
	})
}

// parseOptionalInt extracts an integer from the query string, returning
// defaultValue when the parameter is absent and an error only when it is
// present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// findSegment locates a segment inside the campaign document.
func findSegment(c *campaign.Campaign, segmentID string) (*campaign.Segment, error) {
	for i := range c.Segments {
		if c.Segments[i].ID == segmentID {
			return &c.Segments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errSegmentNotFound, segmentID)
}

// findTest locates a segment's test, failing when none is configured.
func findTest(c *campaign.Campaign, segmentID string) (*campaign.Segment, *campaign.ABTest, error) {
	seg, err := findSegment(c, segmentID)
	if err != nil {
		return nil, nil, err
	}
	if seg.Test == nil {
		return nil, nil, fmt.Errorf("%w: %q", errTestNotFound, segmentID)
	}
	return seg, seg.Test, nil
}

// notifyCacheAsync pushes the updated snapshot to Redis and publishes the
// invalidation event, retrying with exponential backoff. Runs detached from
// the HTTP request: the periodic syncer cycle repairs any miss, so snapshot
// publication must never delay or fail the write path.
func (a *API) notifyCacheAsync(log *slog.Logger, rec *store.CampaignRecord) {
	snap := &cache.CampaignSnapshot{
		Campaign:    rec.Campaign,
		Version:     rec.Version,
		PublishedAt: time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		a.withCacheRetries(ctx, log, snap.Campaign.ID, func() error {
			if err := a.snapshots.SetCampaign(ctx, snap); err != nil {
				return err
			}
			return a.snapshots.PublishUpdate(ctx, snap.Campaign.ID)
		})
	}()
}

// dropCacheAsync evicts a deleted campaign's snapshot and notifies routers.
func (a *API) dropCacheAsync(log *slog.Logger, id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		a.withCacheRetries(ctx, log, id, func() error {
			if err := a.snapshots.DeleteCampaign(ctx, id); err != nil {
				return err
			}
			return a.snapshots.PublishUpdate(ctx, id)
		})
	}()
}

// withCacheRetries runs op with simple exponential backoff.
func (a *API) withCacheRetries(ctx context.Context, log *slog.Logger, id string, op func() error) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i <= maxRetries; i++ {
		err := op()
		if err == nil {
			return
		}

		if i == maxRetries {
			log.Error("failed to publish campaign snapshot after retries",
				slog.String("campaign_id", id),
				slog.String("error", err.Error()))
			return
		}

		log.Warn("failed to publish campaign snapshot, retrying",
			slog.String("campaign_id", id),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(baseDelay * time.Duration(1<<i)):
		}
	}
}
