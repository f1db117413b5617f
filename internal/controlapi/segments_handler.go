package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/logger"
	"github.com/rcabral/switchyard/internal/rules"
)

// handleCreateSegment processes POST .../segments. New segments carry the
// required default "all visitors" rule; narrower rules are added through the
// rules endpoints.
func (a *API) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateSegmentRequest
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

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		// Segment ids and priorities are unique within a campaign. Priority
		// ties would make the match order depend on slice position, so they
		// are rejected at assignment time rather than resolved silently.
		for i := range c.Segments {
			if c.Segments[i].ID == req.ID {
				return fmt.Errorf("%w: %q", errDuplicateSegment, req.ID)
			}
			if c.Segments[i].Priority == req.Priority {
				return fmt.Errorf("%w: priority %d belongs to segment %q",
					errDuplicatePriority, req.Priority, c.Segments[i].ID)
			}
		}

		seg := campaign.NewSegment(req.ID, req.Title, req.Priority, req.PrimaryLandingPageID)
		seg.Description = req.Description

		c.Segments = append(c.Segments, *seg)
		campaign.SortSegments(c.Segments)
		return nil
	})
}

// handleUpdateSegment processes PATCH on a segment: title, description,
// priority and primary page edits. Landing-page changes respect the frozen
// guard; metadata edits stay legal after completion.
func (a *API) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req UpdateSegmentRequest
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
		seg, err := findSegment(c, segmentID)
		if err != nil {
			return err
		}

		if req.Priority != nil {
			for i := range c.Segments {
				if c.Segments[i].ID != seg.ID && c.Segments[i].Priority == *req.Priority {
					return fmt.Errorf("%w: priority %d belongs to segment %q",
						errDuplicatePriority, *req.Priority, c.Segments[i].ID)
				}
			}
		}

		if req.PrimaryLandingPageID != nil {
			if err := seg.SetPrimaryLandingPage(*req.PrimaryLandingPageID); err != nil {
				return err
			}
		}
		if req.Title != nil {
			seg.Title = *req.Title
		}
		if req.Description != nil {
			seg.Description = *req.Description
		}
		if req.Priority != nil {
			seg.Priority = *req.Priority
			campaign.SortSegments(c.Segments)
		}
		return nil
	})
}

// handleDeleteSegment processes DELETE on a segment. Deleting is legal in any
// state: removing a finished experiment's segment discards its history, which
// is the operator's call to make.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		for i := range c.Segments {
			if c.Segments[i].ID != segmentID {
				continue
			}
			c.Segments = append(c.Segments[:i], c.Segments[i+1:]...)
			return nil
		}
		return fmt.Errorf("%w: %q", errSegmentNotFound, segmentID)
	})
}

// --- Rule Handlers ---

// ruleFromPayload decodes the request body shared by rule create and update.
// A missing id gets a generated one; the value is kept as raw JSON, and
// compilation against the registry inside AddRule/UpdateRule is the real
// validation.
func ruleFromPayload(r *http.Request) (rules.Rule, *ErrorResponse) {
	var req struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		Operator string          `json:"operator"`
		Value    json.RawMessage `json:"value"`
		Label    string          `json:"label,omitempty"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		return rules.Rule{}, &ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		}
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if errResp := validateID("id", req.ID); errResp != nil {
		return rules.Rule{}, errResp
	}
	if req.Type == "" {
		return rules.Rule{}, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "type is required",
		}
	}
	if req.Operator == "" {
		return rules.Rule{}, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "operator is required",
		}
	}
	if len(req.Value) == 0 {
		return rules.Rule{}, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "value is required",
		}
	}

	return rules.Rule{
		ID:       req.ID,
		Type:     req.Type,
		Op:       rules.Operator(req.Operator),
		RawValue: req.Value,
		Label:    req.Label,
	}, nil
}

// handleAddRule processes POST .../rules. The rule is compiled against the
// registry before it is stored, so an unknown type, unsupported operator or
// malformed value never reaches the document.
func (a *API) handleAddRule(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	rule, errResp := ruleFromPayload(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		seg, err := findSegment(c, segmentID)
		if err != nil {
			return err
		}
		return seg.AddRule(a.registry, rule)
	})
}

// handleUpdateRule processes PUT .../rules/{ruleID}, a full replacement of
// the rule under the same id.
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")
	ruleID := chi.URLParam(r, "ruleID")

	rule, errResp := ruleFromPayload(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// The URL owns the identity.
	rule.ID = ruleID

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		seg, err := findSegment(c, segmentID)
		if err != nil {
			return err
		}
		return seg.UpdateRule(a.registry, rule)
	})
}

// handleRemoveRule processes DELETE .../rules/{ruleID}.
func (a *API) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")
	ruleID := chi.URLParam(r, "ruleID")

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		seg, err := findSegment(c, segmentID)
		if err != nil {
			return err
		}
		return seg.RemoveRule(ruleID)
	})
}
