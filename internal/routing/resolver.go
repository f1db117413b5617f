// Package routing decides, for an incoming visitor, which landing-page
// variant they see: it matches the visitor against prioritized segments and
// applies the pooling and variant weights of any active A/B test.
package routing

import (
	"log/slog"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/rules"
)

// Match is the result of segment resolution.
type Match struct {
	// Segment is the first fully-matching segment in priority order.
	Segment *campaign.Segment

	// MatchedByDefault is true when the segment won on its synthetic
	// "visitor type: all" rule alone, with no narrower rule present.
	MatchedByDefault bool
}

// Resolver finds the highest-priority segment whose rules all match a
// visitor. Matching is a pure function of (segments, attributes): no hidden
// state, no randomness, so repeated evaluations within a session agree.
type Resolver struct {
	evaluator *rules.Evaluator
	logger    *slog.Logger
}

// NewResolver creates a resolver bound to the given registry.
// If logger is nil, it defaults to slog.Default().
func NewResolver(reg *rules.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		evaluator: rules.NewEvaluator(reg),
		logger:    logger,
	}
}

// Resolve iterates segments in ascending priority order and returns the first
// whose rules all match. Rules are AND-combined with short-circuit on the
// first failure. The boolean result is false when no segment matches; the
// caller falls back to its own default landing page.
//
// A rule that fails to evaluate (unknown type, malformed value) is treated as
// a non-match for its segment only: the error is logged and resolution
// continues with the remaining segments (fail open).
func (r *Resolver) Resolve(segments []campaign.Segment, attrs rules.Attributes) (Match, bool) {
	for i := range segments {
		seg := &segments[i]
		if r.segmentMatches(seg, attrs) {
			return Match{
				Segment:          seg,
				MatchedByDefault: isDefaultOnly(seg),
			}, true
		}
	}
	return Match{}, false
}

func (r *Resolver) segmentMatches(seg *campaign.Segment, attrs rules.Attributes) bool {
	for _, rule := range seg.Rules {
		match, err := r.evaluator.Matches(attrs, rule)
		if err != nil {
			r.logger.Error("rule evaluation failed, treating as non-match",
				slog.String("segment_id", seg.ID),
				slog.String("rule_id", rule.ID),
				slog.String("rule_type", rule.Type),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !match {
			return false
		}
	}
	return true
}

// isDefaultOnly reports whether the segment carries nothing beyond the
// required default rule.
func isDefaultOnly(seg *campaign.Segment) bool {
	for _, rule := range seg.Rules {
		if !rule.IsRequired {
			return false
		}
	}
	return true
}
