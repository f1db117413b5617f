package experiment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/campaign"
)

// stubTranslations is a TranslationSource test double.
type stubTranslations struct {
	byPage map[string][]campaign.Translation
	err    error
}

func (s *stubTranslations) TranslationsForPage(_ context.Context, landingPageID string) ([]campaign.Translation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byPage[landingPageID], nil
}

func promotableSegment(status campaign.Status) *campaign.Segment {
	seg := campaign.NewSegment("seg-1", "US mobile", 1, "lp-original")
	seg.Translations = []campaign.Translation{{Locale: "en", ContentRef: "content-original"}}

	test := campaign.NewABTest("test-1", seg.ID, "Headline test", 100, "v-control", "v-b")
	_ = test.SetVariantLandingPage("v-control", "lp-original")
	_ = test.SetVariantLandingPage("v-b", "lp-challenger")
	test.Status = status
	seg.Test = test
	return seg
}

func TestPromoteWinner(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("Should complete the test and rewire the segment in one operation", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusRunning)
		source := &stubTranslations{byPage: map[string][]campaign.Translation{
			"lp-challenger": {{Locale: "en", ContentRef: "content-b"}, {Locale: "de", ContentRef: "content-b-de"}},
		}}

		applied, err := PromoteWinner(ctx, seg, "v-b", source, FixedClock{T: t0}, nil)
		require.NoError(t, err)
		assert.True(t, applied)

		assert.Equal(t, campaign.StatusCompleted, seg.Test.Status)
		assert.True(t, seg.Test.IsCompleted)
		assert.Equal(t, "v-b", seg.Test.Winner)
		require.NotNil(t, seg.Test.CompletedAt)
		assert.Equal(t, t0, *seg.Test.CompletedAt)

		assert.Equal(t, "lp-challenger", seg.PrimaryLandingPageID)
		require.Len(t, seg.Translations, 2)
		assert.Equal(t, "content-b", seg.Translations[0].ContentRef)
	})

	t.Run("Should promote from a paused test", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusPaused)
		source := &stubTranslations{byPage: map[string][]campaign.Translation{}}

		applied, err := PromoteWinner(ctx, seg, "v-b", source, FixedClock{T: t0}, nil)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, campaign.StatusCompleted, seg.Test.Status)
	})

	t.Run("Should clear translations and still succeed when the lookup fails", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusRunning)
		source := &stubTranslations{err: errors.New("content store unavailable")}

		var logBuffer bytes.Buffer
		log := slog.New(slog.NewTextHandler(&logBuffer, nil))

		applied, err := PromoteWinner(ctx, seg, "v-b", source, FixedClock{T: t0}, log)
		require.NoError(t, err)
		assert.True(t, applied)

		// The promotion itself went through.
		assert.Equal(t, campaign.StatusCompleted, seg.Test.Status)
		assert.Equal(t, "v-b", seg.Test.Winner)
		assert.Equal(t, "lp-challenger", seg.PrimaryLandingPageID)

		// Translations are cleared, not left stale, and the failure is logged.
		assert.NotNil(t, seg.Translations)
		assert.Empty(t, seg.Translations)
		assert.Contains(t, logBuffer.String(), "translation copy failed")
	})

	t.Run("Should be a no-op on a draft test", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusDraft)
		applied, err := PromoteWinner(ctx, seg, "v-b", &stubTranslations{}, FixedClock{T: t0}, nil)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, campaign.StatusDraft, seg.Test.Status)
		assert.Equal(t, "lp-original", seg.PrimaryLandingPageID)
	})

	t.Run("Should be a no-op on an already completed test", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusCompleted)
		seg.Test.Winner = "v-control"

		applied, err := PromoteWinner(ctx, seg, "v-b", &stubTranslations{}, FixedClock{T: t0}, nil)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, "v-control", seg.Test.Winner, "the recorded winner must not change")
	})

	t.Run("Should reject an unknown variant id", func(t *testing.T) {
		t.Parallel()

		seg := promotableSegment(campaign.StatusRunning)
		applied, err := PromoteWinner(ctx, seg, "ghost", &stubTranslations{}, FixedClock{T: t0}, nil)
		assert.False(t, applied)
		assert.ErrorIs(t, err, campaign.ErrVariantNotFound)
		assert.Equal(t, campaign.StatusRunning, seg.Test.Status)
	})

	t.Run("Should fail when the segment has no test", func(t *testing.T) {
		t.Parallel()

		seg := campaign.NewSegment("seg-1", "US", 1, "lp-1")
		applied, err := PromoteWinner(ctx, seg, "v-b", &stubTranslations{}, FixedClock{T: t0}, nil)
		assert.False(t, applied)
		assert.Error(t, err)
	})
}
