package routing

import (
	"fmt"
	"log/slog"

	"github.com/spaolacci/murmur3"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/experiment"
	"github.com/rcabral/switchyard/internal/rules"
)

// Decision reasons returned to the edge runtime.
const (
	ReasonNoMatch        = "NO_MATCH"        // no segment matched, fallback page served
	ReasonSegmentPrimary = "SEGMENT_PRIMARY" // matched segment, no active test
	ReasonTestBypass     = "TEST_BYPASS"     // outside the pooling share, primary page served
	ReasonTestVariant    = "TEST_VARIANT"    // exposed to the test, variant page served
)

// Decision is the routing outcome for one visitor request.
type Decision struct {
	// SegmentID is empty when no segment matched.
	SegmentID string `json:"segment_id,omitempty"`

	// LandingPageID is the content the visitor is served.
	LandingPageID string `json:"landing_page_id"`

	// TestID and VariantID are set only when the visitor is exposed to an
	// active A/B test.
	TestID    string `json:"test_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`

	// Exposed is true when the visitor entered the test's pooled traffic.
	Exposed bool `json:"exposed"`

	Reason string `json:"reason"`
}

// Router combines segment resolution with A/B test traffic allocation.
type Router struct {
	resolver *Resolver
	clock    experiment.Clock
	logger   *slog.Logger
}

// NewRouter creates a router. A nil clock defaults to the system clock, and a
// nil logger to slog.Default().
func NewRouter(reg *rules.Registry, clock experiment.Clock, logger *slog.Logger) *Router {
	if clock == nil {
		clock = experiment.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		resolver: NewResolver(reg, logger),
		clock:    clock,
		logger:   logger,
	}
}

// Decide routes one visitor through the campaign snapshot.
//
// Flow: segment resolution picks the first matching segment (or the campaign
// fallback). If the segment carries a test that is currently running, the
// pooling gate decides whether this visitor enters the test at all; exposed
// visitors are assigned a variant by cumulative traffic-percentage weights.
// Both decisions hash (visitorID, salt) so the same visitor sees the same
// outcome on every request, with distinct salts keeping the pooling gate and
// the variant pick statistically independent.
func (rt *Router) Decide(c *campaign.Campaign, visitorID string, attrs rules.Attributes) Decision {
	match, ok := rt.resolver.Resolve(c.Segments, attrs)
	if !ok {
		return Decision{
			LandingPageID: c.FallbackLandingPageID,
			Reason:        ReasonNoMatch,
		}
	}

	seg := match.Segment
	decision := Decision{
		SegmentID:     seg.ID,
		LandingPageID: seg.PrimaryLandingPageID,
		Reason:        ReasonSegmentPrimary,
	}

	t := seg.Test
	if !experiment.Running(t, rt.clock.Now()) {
		return decision
	}

	// Pooling gate: only PoolingPercent% of the segment's matched traffic is
	// diverted into the test; the rest bypasses it entirely.
	if bucketOf(visitorID, t.ID+":pool") >= t.PoolingPercent {
		decision.TestID = t.ID
		decision.Reason = ReasonTestBypass
		return decision
	}

	variant := pickVariant(t, bucketOf(visitorID, t.ID+":variant"))
	if variant == nil {
		// Weights not summing to 100 would indicate snapshot corruption;
		// serve the primary page rather than failing the request.
		rt.logger.Error("no variant matched traffic weights, serving primary page",
			slog.String("test_id", t.ID),
			slog.String("segment_id", seg.ID),
		)
		decision.TestID = t.ID
		decision.Reason = ReasonTestBypass
		return decision
	}

	decision.TestID = t.ID
	decision.VariantID = variant.ID
	decision.Exposed = true
	decision.Reason = ReasonTestVariant
	if variant.LandingPageID != "" {
		decision.LandingPageID = variant.LandingPageID
	}
	return decision
}

// bucketOf maps (visitorID, salt) onto a stable bucket in [0, 100).
// Murmur3 gives a fast, well-distributed hash; the salt ensures a visitor in
// the lucky share of one decision is not automatically in the lucky share of
// another.
func bucketOf(visitorID, salt string) int {
	hasher := murmur3.New32()
	_, _ = hasher.Write([]byte(fmt.Sprintf("%s:%s", visitorID, salt)))
	return int(hasher.Sum32() % 100)
}

// pickVariant walks the variants' cumulative traffic percentages and returns
// the one whose range contains the bucket. Variants are stored in stable
// index order, so the mapping from bucket to variant is deterministic.
func pickVariant(t *campaign.ABTest, bucket int) *campaign.Variant {
	cumulative := 0
	for i := range t.Variants {
		cumulative += t.Variants[i].TrafficPercentage
		if bucket < cumulative {
			return &t.Variants[i]
		}
	}
	return nil
}
