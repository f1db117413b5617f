package experiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcabral/switchyard/internal/campaign"
)

// TranslationSource looks up the localized content set attached to a landing
// page. It is an external collaborator (the content store) and may fail;
// promotion degrades gracefully when it does.
type TranslationSource interface {
	TranslationsForPage(ctx context.Context, landingPageID string) ([]campaign.Translation, error)
}

// PromoteWinner ends the test by designating one variant as the segment's new
// default content. It is legal while the test is running or paused, at any
// time during those states, independent of the finish action. Effects applied
// together:
//
//  1. The test is completed with the winner recorded.
//  2. The segment's primary landing page becomes the winning variant's page.
//  3. The segment's translation list is replaced with the set attached to the
//     winning page. If the lookup fails, the list is cleared rather than left
//     stale: the failure is logged, and the promotion still succeeds.
//
// Calling it in any other state is a silent no-op, consistent with Apply. An
// unknown variant id is a validation error and changes nothing.
func PromoteWinner(
	ctx context.Context,
	seg *campaign.Segment,
	variantID string,
	translations TranslationSource,
	clock Clock,
	log *slog.Logger,
) (bool, error) {
	if log == nil {
		log = slog.Default()
	}

	t := seg.Test
	if t == nil {
		return false, fmt.Errorf("segment %s has no test to promote from", seg.ID)
	}
	if t.Status != campaign.StatusRunning && t.Status != campaign.StatusPaused {
		return false, nil
	}

	winner := t.Variant(variantID)
	if winner == nil {
		return false, fmt.Errorf("%w: %q", campaign.ErrVariantNotFound, variantID)
	}

	now := clock.Now()
	t.Status = campaign.StatusCompleted
	t.IsCompleted = true
	t.CompletedAt = &now
	t.Winner = winner.ID

	seg.PrimaryLandingPageID = winner.LandingPageID

	// Copy the winner's translations onto the segment. The three mutations
	// above and this one form one conceptual transaction; persistence of the
	// updated snapshot is the caller's transactional boundary.
	copied, err := translations.TranslationsForPage(ctx, winner.LandingPageID)
	if err != nil {
		log.Warn("translation copy failed during winner promotion, clearing segment translations",
			slog.String("segment_id", seg.ID),
			slog.String("test_id", t.ID),
			slog.String("winner_id", winner.ID),
			slog.String("error", err.Error()),
		)
		seg.Translations = []campaign.Translation{}
		return true, nil
	}
	seg.Translations = copied

	log.Info("winner promoted",
		slog.String("segment_id", seg.ID),
		slog.String("test_id", t.ID),
		slog.String("winner_id", winner.ID),
		slog.String("landing_page_id", winner.LandingPageID),
	)
	return true, nil
}
