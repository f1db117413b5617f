package controlapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/experiment"
	"github.com/rcabral/switchyard/internal/logger"
)

// handleCreateTest processes POST .../test. A segment holds at most one test;
// a second creation attempt is a conflict, including after the first test has
// completed (the segment is frozen at that point).
func (a *API) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req CreateTestRequest
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
		seg, err := findSegment(c, segmentID)
		if err != nil {
			return err
		}
		if seg.Test != nil {
			return fmt.Errorf("%w: %q", errTestExists, segmentID)
		}

		t := campaign.NewABTest(req.ID, seg.ID, req.Title, req.PoolingPercent,
			req.ControlVariantID, req.ChallengerVariantID)
		t.Description = req.Description
		t.Hypothesis = req.Hypothesis

		// The control inherits the segment's current page so it keeps showing
		// what visitors see today; the challenger starts without a page.
		t.Variants[0].LandingPageID = seg.PrimaryLandingPageID

		seg.Test = t
		return nil
	})
}

// handleUpdateTest processes PATCH .../test: pooling, goal settings and
// stopping criteria. Editing a completed test is rejected.
func (a *API) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req UpdateTestRequest
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
		_, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}
		if t.Status == campaign.StatusCompleted {
			return campaign.ErrFrozen
		}

		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Hypothesis != nil {
			t.Hypothesis = *req.Hypothesis
		}
		if req.PoolingPercent != nil {
			t.SetPoolingPercent(*req.PoolingPercent)
		}
		if req.PrimaryMetric != nil {
			t.PrimaryMetric = *req.PrimaryMetric
		}
		if req.ConfidenceLevel != nil {
			t.ConfidenceLevel = *req.ConfidenceLevel
		}
		if req.SampleSizePerVariant != nil {
			t.Completion.SampleSizePerVariant = req.SampleSizePerVariant
		}
		if req.TestDurationDays != nil {
			t.Completion.TestDurationDays = req.TestDurationDays
		}
		if req.WinningStrategy != nil {
			t.WinningStrategy = campaign.WinningStrategy(*req.WinningStrategy)
		}
		return nil
	})
}

// handleDeleteTest processes DELETE .../test. Only a draft test can be
// discarded: a running or paused test has already routed visitors and must be
// finished instead, and a completed test is the segment's permanent history.
func (a *API) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		seg, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}
		if t.Status != campaign.StatusDraft {
			return fmt.Errorf("%w: test %q is %s", errTestNotDraft, t.ID, t.Status)
		}
		seg.Test = nil
		return nil
	})
}

// --- Variant Handlers ---

// handleAddVariant processes POST .../variants. Traffic is re-split equally
// across all arms by the domain layer.
func (a *API) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req AddVariantRequest
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
		_, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}
		if t.Variant(req.ID) != nil {
			return fmt.Errorf("%w: %q", errDuplicateVariant, req.ID)
		}
		return t.AddVariant(req.ID, req.Title)
	})
}

// handleUpdateVariant processes PATCH .../variants/{variantID}: traffic
// share, landing page and metadata edits.
func (a *API) handleUpdateVariant(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")
	variantID := chi.URLParam(r, "variantID")

	var req UpdateVariantRequest
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
		_, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}

		// Traffic first: it is the edit most likely to fail, and failing
		// before metadata changes keeps the document untouched on error.
		if req.TrafficPercentage != nil {
			if err := t.SetVariantTraffic(variantID, *req.TrafficPercentage); err != nil {
				return err
			}
		}
		if req.LandingPageID != nil {
			if err := t.SetVariantLandingPage(variantID, *req.LandingPageID); err != nil {
				return err
			}
		}

		v := t.Variant(variantID)
		if v == nil {
			return fmt.Errorf("%w: %q", campaign.ErrVariantNotFound, variantID)
		}
		if req.Title != nil {
			v.Title = *req.Title
		}
		if req.Description != nil {
			v.Description = *req.Description
		}
		return nil
	})
}

// handleRemoveVariant processes DELETE .../variants/{variantID}. The control
// is protected and a test keeps at least two arms.
func (a *API) handleRemoveVariant(w http.ResponseWriter, r *http.Request) {
	segmentID := chi.URLParam(r, "segmentID")
	variantID := chi.URLParam(r, "variantID")

	a.mutateCampaign(w, r, func(c *campaign.Campaign) error {
		_, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}
		return t.RemoveVariant(variantID)
	})
}

// --- Lifecycle Handlers ---

// handleTestAction processes POST .../test/actions: start, pause, finish.
// An action that does not apply to the current state is a no-op returning the
// unchanged campaign, matching the optimistic UI the editor runs.
func (a *API) handleTestAction(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req LifecycleRequest
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
		_, t, err := findTest(c, segmentID)
		if err != nil {
			return err
		}

		changed, err := experiment.Apply(t, experiment.Action(req.Action), a.clock)
		if err != nil {
			return err
		}
		if changed {
			log.Info("test lifecycle action applied",
				slog.String("test_id", t.ID),
				slog.String("action", req.Action),
				slog.String("status", string(t.Status)))
		}
		return nil
	})
}

// handlePromoteWinner processes POST .../test/winner: completes the test,
// rewires the segment's primary page to the winning variant's page, and
// copies the winner's translations onto the segment, all in one write.
func (a *API) handlePromoteWinner(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "segmentID")

	var req PromoteWinnerRequest
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
		seg, _, err := findTest(c, segmentID)
		if err != nil {
			return err
		}

		promoted, err := experiment.PromoteWinner(r.Context(), seg, req.VariantID,
			a.translations, a.clock, log)
		if err != nil {
			return err
		}
		if promoted {
			log.Info("winner promoted via control plane",
				slog.String("segment_id", seg.ID),
				slog.String("winner_id", req.VariantID))
		}
		return nil
	})
}
