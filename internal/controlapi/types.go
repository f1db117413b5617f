// Package controlapi implements the REST API of the Switchyard control plane:
// campaign authoring, segment and rule management, A/B test configuration and
// lifecycle, and winner promotion. It handles HTTP routing, request decoding,
// validation, and response formatting.
package controlapi

import (
	"regexp"
	"strings"
	"time"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/store"
)

// idRegex ensures resource ids are URL-safe slugs (lowercase, numbers,
// hyphens). Compiled once at package initialization.
var idRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// validConfidenceLevels are the supported significance settings.
var validConfidenceLevels = map[int]bool{90: true, 95: true, 99: true}

// Campaign is the API representation of a campaign: the stored document plus
// its persistence metadata. The version travels with every response so
// clients can detect concurrent edits.
type Campaign struct {
	*campaign.Campaign

	// Version is the monotonic counter for optimistic locking.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// mapRecordToResponse converts the persistence record to the response DTO.
func mapRecordToResponse(rec *store.CampaignRecord) Campaign {
	return Campaign{
		Campaign:  rec.Campaign,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateID enforces the slug format shared by every resource id.
func validateID(field, value string) *ErrorResponse {
	if value == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " is required",
		}
	}
	if len(value) < 3 || len(value) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must be between 3 and 255 characters",
		}
	}
	if !idRegex.MatchString(value) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must contain only lowercase letters, numbers, and hyphens (slug format)",
		}
	}
	return nil
}

// validateTitle enforces rules for human-readable names.
func validateTitle(field, value string) *ErrorResponse {
	if value == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " is required",
		}
	}
	if len(value) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must be less than 255 characters",
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Campaign DTOs
// -----------------------------------------------------------------------------

// CreateCampaignRequest defines the payload for POST /campaigns.
type CreateCampaignRequest struct {
	// ID is required and immutable. Matches '^[a-z0-9-]+$'.
	ID string `json:"id"`

	// Name is required.
	Name string `json:"name"`

	// FallbackLandingPageID is the page served when no segment matches.
	FallbackLandingPageID string `json:"fallback_landing_page_id"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateCampaignRequest) Sanitize() {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Name = strings.TrimSpace(r.Name)
	r.FallbackLandingPageID = strings.TrimSpace(r.FallbackLandingPageID)
}

// Validate checks the request against business rules. It returns a structured
// *ErrorResponse if validation fails, or nil if valid.
func (r *CreateCampaignRequest) Validate() *ErrorResponse {
	if err := validateID("id", r.ID); err != nil {
		return err
	}
	if err := validateTitle("name", r.Name); err != nil {
		return err
	}
	if r.FallbackLandingPageID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "fallback_landing_page_id is required",
		}
	}
	return nil
}

// UpdateCampaignRequest defines the payload for partial updates (PATCH).
// Pointers distinguish "missing field" (do nothing) from "empty value"
// (explicit update).
type UpdateCampaignRequest struct {
	Name                  *string `json:"name,omitempty"`
	FallbackLandingPageID *string `json:"fallback_landing_page_id,omitempty"`
}

// Validate checks the provided fields.
func (r *UpdateCampaignRequest) Validate() *ErrorResponse {
	if r.Name != nil {
		if err := validateTitle("name", *r.Name); err != nil {
			return err
		}
	}
	if r.FallbackLandingPageID != nil && strings.TrimSpace(*r.FallbackLandingPageID) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "fallback_landing_page_id cannot be empty",
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Segment DTOs
// -----------------------------------------------------------------------------

// CreateSegmentRequest defines the payload for POST /campaigns/{id}/segments.
type CreateSegmentRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Priority ranks the segment for matching; lower evaluates first.
	// It must be unique within the campaign.
	Priority int `json:"priority"`

	// PrimaryLandingPageID is the segment's default content.
	PrimaryLandingPageID string `json:"primary_landing_page_id"`
}

// Sanitize trims whitespace on free-text fields.
func (r *CreateSegmentRequest) Sanitize() {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.PrimaryLandingPageID = strings.TrimSpace(r.PrimaryLandingPageID)
}

// Validate checks the request against business rules.
func (r *CreateSegmentRequest) Validate() *ErrorResponse {
	if err := validateID("id", r.ID); err != nil {
		return err
	}
	if err := validateTitle("title", r.Title); err != nil {
		return err
	}
	if r.Priority < 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "priority must be zero or positive",
		}
	}
	if r.PrimaryLandingPageID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "primary_landing_page_id is required",
		}
	}
	return nil
}

// UpdateSegmentRequest defines the payload for PATCH on a segment.
type UpdateSegmentRequest struct {
	Title                *string `json:"title,omitempty"`
	Description          *string `json:"description,omitempty"`
	Priority             *int    `json:"priority,omitempty"`
	PrimaryLandingPageID *string `json:"primary_landing_page_id,omitempty"`
}

// Validate checks the provided fields.
func (r *UpdateSegmentRequest) Validate() *ErrorResponse {
	if r.Title != nil {
		if err := validateTitle("title", *r.Title); err != nil {
			return err
		}
	}
	if r.Priority != nil && *r.Priority < 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "priority must be zero or positive",
		}
	}
	if r.PrimaryLandingPageID != nil && strings.TrimSpace(*r.PrimaryLandingPageID) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "primary_landing_page_id cannot be empty",
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Test and Variant DTOs
// -----------------------------------------------------------------------------

// CreateTestRequest defines the payload for creating a segment's A/B test.
// The test always starts in draft with a control and one challenger.
type CreateTestRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Hypothesis  string `json:"hypothesis,omitempty"`

	// PoolingPercent is the share of segment traffic diverted into the test.
	// Clamped to [1, 100] by the domain layer.
	PoolingPercent int `json:"pooling_percent"`

	// ControlVariantID and ChallengerVariantID name the two initial arms.
	ControlVariantID    string `json:"control_variant_id"`
	ChallengerVariantID string `json:"challenger_variant_id"`
}

// Sanitize trims whitespace on free-text fields.
func (r *CreateTestRequest) Sanitize() {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.Hypothesis = strings.TrimSpace(r.Hypothesis)
	r.ControlVariantID = strings.ToLower(strings.TrimSpace(r.ControlVariantID))
	r.ChallengerVariantID = strings.ToLower(strings.TrimSpace(r.ChallengerVariantID))
}

// Validate checks the request against business rules.
func (r *CreateTestRequest) Validate() *ErrorResponse {
	if err := validateID("id", r.ID); err != nil {
		return err
	}
	if err := validateTitle("title", r.Title); err != nil {
		return err
	}
	if err := validateID("control_variant_id", r.ControlVariantID); err != nil {
		return err
	}
	if err := validateID("challenger_variant_id", r.ChallengerVariantID); err != nil {
		return err
	}
	if r.ControlVariantID == r.ChallengerVariantID {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "control and challenger variant ids must differ",
		}
	}
	return nil
}

// UpdateTestRequest defines the payload for PATCH on a test: pooling, goal
// settings and stopping criteria. Lifecycle changes go through the actions
// endpoint instead.
type UpdateTestRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Hypothesis  *string `json:"hypothesis,omitempty"`

	PoolingPercent  *int    `json:"pooling_percent,omitempty"`
	PrimaryMetric   *string `json:"primary_metric,omitempty"`
	ConfidenceLevel *int    `json:"confidence_level,omitempty"`

	SampleSizePerVariant *int `json:"sample_size_per_variant,omitempty"`
	TestDurationDays     *int `json:"test_duration_days,omitempty"`

	WinningStrategy *string `json:"winning_strategy,omitempty"`
}

// Validate checks the provided fields.
func (r *UpdateTestRequest) Validate() *ErrorResponse {
	if r.Title != nil {
		if err := validateTitle("title", *r.Title); err != nil {
			return err
		}
	}
	if r.ConfidenceLevel != nil && !validConfidenceLevels[*r.ConfidenceLevel] {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "confidence_level must be one of 90, 95, 99",
		}
	}
	if r.SampleSizePerVariant != nil && *r.SampleSizePerVariant < 1 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "sample_size_per_variant must be positive",
		}
	}
	if r.TestDurationDays != nil && *r.TestDurationDays < 1 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "test_duration_days must be positive",
		}
	}
	if r.WinningStrategy != nil {
		switch campaign.WinningStrategy(*r.WinningStrategy) {
		case campaign.StrategyWinner, campaign.StrategyWinnerOrControl:
		default:
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "winning_strategy must be 'winner' or 'winnerOrControl'",
			}
		}
	}
	return nil
}

// AddVariantRequest defines the payload for adding a test arm.
type AddVariantRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Sanitize trims whitespace.
func (r *AddVariantRequest) Sanitize() {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Title = strings.TrimSpace(r.Title)
}

// Validate checks the request against business rules.
func (r *AddVariantRequest) Validate() *ErrorResponse {
	if err := validateID("id", r.ID); err != nil {
		return err
	}
	return validateTitle("title", r.Title)
}

// UpdateVariantRequest defines the payload for PATCH on a variant.
type UpdateVariantRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`

	// TrafficPercentage pins this arm's share; the remaining arms are scaled
	// proportionally so the total stays at 100.
	TrafficPercentage *int `json:"traffic_percentage,omitempty"`

	// LandingPageID assigns the arm's content.
	LandingPageID *string `json:"landing_page_id,omitempty"`
}

// Validate checks the provided fields.
func (r *UpdateVariantRequest) Validate() *ErrorResponse {
	if r.Title != nil {
		if err := validateTitle("title", *r.Title); err != nil {
			return err
		}
	}
	if r.TrafficPercentage != nil && (*r.TrafficPercentage < 0 || *r.TrafficPercentage > 100) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "traffic_percentage must be between 0 and 100",
		}
	}
	return nil
}

// LifecycleRequest defines the payload for POST .../test/actions.
type LifecycleRequest struct {
	// Action is one of "start", "pause", "finish".
	Action string `json:"action"`
}

// Validate checks the action name.
func (r *LifecycleRequest) Validate() *ErrorResponse {
	switch r.Action {
	case "start", "pause", "finish":
		return nil
	default:
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "action must be one of 'start', 'pause', 'finish'",
		}
	}
}

// PromoteWinnerRequest defines the payload for POST .../test/winner.
type PromoteWinnerRequest struct {
	VariantID string `json:"variant_id"`
}

// Validate checks the winner reference.
func (r *PromoteWinnerRequest) Validate() *ErrorResponse {
	if strings.TrimSpace(r.VariantID) == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "variant_id is required",
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Shared response envelopes
// -----------------------------------------------------------------------------

// PaginatedResponse is the standard wrapper for list endpoints.
type PaginatedResponse struct {
	// Data holds the list of resources (e.g., []Campaign).
	Data interface{} `json:"data"`

	// Pagination contains offset pagination metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
