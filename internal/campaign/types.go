// Package campaign defines the configuration model for traffic-splitting
// campaigns: prioritized audience segments, their targeting rules, and the
// A/B tests that divert a share of segment traffic across landing-page
// variants. The structs here are the wire format shared by the control plane
// API, the PostgreSQL store, and the Redis snapshot consumed by the router.
package campaign

import (
	"sort"
	"time"

	"github.com/rcabral/switchyard/internal/rules"
)

// Status is the lifecycle state of an A/B test.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// WinningStrategy describes how a finished test selects its winner.
type WinningStrategy string

const (
	// StrategyWinner promotes the best-performing variant unconditionally.
	StrategyWinner WinningStrategy = "winner"
	// StrategyWinnerOrControl keeps the control unless a challenger clearly wins.
	StrategyWinnerOrControl WinningStrategy = "winnerOrControl"
)

// Translation is one localized content reference attached to a segment.
// Winner promotion replaces the segment's translation list with the set
// associated with the winning variant's landing page.
type Translation struct {
	Locale     string `json:"locale"`
	ContentRef string `json:"content_ref"`
}

// CompletionCriteria holds the optional stopping conditions for a test.
type CompletionCriteria struct {
	// SampleSizePerVariant is the target exposure count per variant, if set.
	SampleSizePerVariant *int `json:"sample_size_per_variant,omitempty"`

	// TestDurationDays is the configured duration, if set. The end date is
	// derived from it at start time and shifted on pause/resume.
	TestDurationDays *int `json:"test_duration_days,omitempty"`
}

// Variant is one arm of an A/B test.
type Variant struct {
	ID     string `json:"id"`
	TestID string `json:"test_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Index is the stable 0-based ordering; index 0 is always the control.
	Index int `json:"index"`

	// IsControl is true for exactly one variant per test.
	IsControl bool `json:"is_control"`

	// LandingPageID is empty until a page is assigned. A test cannot start
	// while any variant has no page.
	LandingPageID string `json:"landing_page_id,omitempty"`

	// TrafficPercentage is this variant's integer share in [0, 100].
	// The shares of all variants of a test sum to exactly 100.
	TrafficPercentage int `json:"traffic_percentage"`
}

// ABTest is an A/B test owned by a segment. A segment holds at most one test.
type ABTest struct {
	ID        string `json:"id"`
	SegmentID string `json:"segment_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Hypothesis  string `json:"hypothesis,omitempty"`

	Status Status `json:"status"`

	// PoolingPercent is the share of the segment's matched traffic diverted
	// into the test, clamped to [1, 100]. The remaining traffic bypasses the
	// test and sees the segment's primary landing page directly.
	PoolingPercent int `json:"pooling_percent"`

	// PrimaryMetric references the goal the test optimizes for.
	PrimaryMetric string `json:"primary_metric,omitempty"`

	// ConfidenceLevel is one of 90, 95, 99.
	ConfidenceLevel int `json:"confidence_level"`

	Completion CompletionCriteria `json:"completion_criteria"`

	WinningStrategy WinningStrategy `json:"winning_strategy"`

	// Transition timestamps, set only by the matching lifecycle action.
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// EndDate is derived from StartedAt + TestDurationDays and extended by
	// pause gaps so the configured duration measures active time. Nil for
	// open-ended tests.
	EndDate *time.Time `json:"end_date,omitempty"`

	// Winner is the winning variant id, set only when completed.
	Winner string `json:"winner,omitempty"`

	// IsCompleted mirrors Status == completed for legacy consumers.
	IsCompleted bool `json:"is_completed"`

	Variants []Variant `json:"variants"`
}

// Variant returns the variant with the given id, or nil.
func (t *ABTest) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

// Control returns the control variant (index 0), or nil for a malformed test.
func (t *ABTest) Control() *Variant {
	for i := range t.Variants {
		if t.Variants[i].IsControl {
			return &t.Variants[i]
		}
	}
	return nil
}

// Segment is a named, prioritized bundle of AND-combined targeting rules
// mapped to a default landing page, optionally carrying one A/B test.
type Segment struct {
	ID string `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Priority ranks segments for matching; lower evaluates first.
	// Priorities are unique within a campaign (enforced at assignment time).
	Priority int `json:"priority"`

	// Rules are AND-combined; all must match for the segment to win.
	Rules []rules.Rule `json:"rules"`

	// PrimaryLandingPageID is the segment's default content. Winner promotion
	// overwrites it with the winning variant's page.
	PrimaryLandingPageID string `json:"primary_landing_page_id"`

	// TrafficNodeID references the owning traffic node in the editor canvas.
	TrafficNodeID string `json:"traffic_node_id,omitempty"`

	// Translations is the localized content set for the primary page.
	Translations []Translation `json:"translations,omitempty"`

	// Test is the segment's A/B test, nil when none is configured.
	Test *ABTest `json:"test,omitempty"`
}

// Frozen reports whether the segment is read-only. Once its test completes,
// rule, landing-page, and traffic edits are rejected; only non-destructive
// reads remain.
func (s *Segment) Frozen() bool {
	return s.Test != nil && s.Test.Status == StatusCompleted
}

// Campaign is the snapshot the router evaluates: ordered segments plus the
// fallback page used when no segment matches.
type Campaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// FallbackLandingPageID is served when no segment matches the visitor.
	FallbackLandingPageID string `json:"fallback_landing_page_id"`

	Segments []Segment `json:"segments"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SortSegments orders segments in-place by ascending priority, the order the
// matcher evaluates them in.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Priority < segments[j].Priority
	})
}

// CompileRules compiles the stored rule values of every segment against the
// registry. It must run after a snapshot is deserialized and before matching.
func (c *Campaign) CompileRules(reg *rules.Registry) error {
	for i := range c.Segments {
		if err := rules.CompileRules(reg, c.Segments[i].Rules); err != nil {
			return err
		}
	}
	return nil
}
