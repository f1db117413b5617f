//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/rules"
	"github.com/rcabral/switchyard/internal/store"
	"github.com/rcabral/switchyard/internal/testsupport"
)

// testCampaign builds a document with one targeted segment carrying a draft
// test, exercising the full JSONB round trip.
func testCampaign(id string) *campaign.Campaign {
	seg := campaign.NewSegment("seg-us", "US visitors", 1, "lp-us")
	seg.Rules = append(seg.Rules, rules.Rule{
		ID:       "rule-country",
		Type:     rules.TypeCountry,
		Op:       rules.OpEquals,
		RawValue: json.RawMessage(`"US"`),
	})
	seg.Test = campaign.NewABTest("test-1", seg.ID, "Headline test", 30, "var-control", "var-b")

	return &campaign.Campaign{
		ID:                    id,
		Name:                  "Campaign " + id,
		FallbackLandingPageID: "lp-fallback",
		Segments:              []campaign.Segment{*seg},
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	repo := store.NewPostgresStore(pgContainer.DB)

	t.Run("Should create a campaign and fill in persistence metadata", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-create")}

		require.NoError(t, repo.CreateCampaign(ctx, rec))

		assert.Equal(t, int64(1), rec.Version)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.False(t, rec.UpdatedAt.IsZero())
	})

	t.Run("Should return ErrDuplicate for a repeated id", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-dup")}
		require.NoError(t, repo.CreateCampaign(ctx, rec))

		err := repo.CreateCampaign(ctx, &store.CampaignRecord{Campaign: testCampaign("camp-dup")})
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("Should round-trip the full campaign document", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-roundtrip")}
		require.NoError(t, repo.CreateCampaign(ctx, rec))

		loaded, err := repo.GetCampaign(ctx, "camp-roundtrip")
		require.NoError(t, err)

		assert.Equal(t, "lp-fallback", loaded.Campaign.FallbackLandingPageID)
		require.Len(t, loaded.Campaign.Segments, 1)

		seg := loaded.Campaign.Segments[0]
		assert.Len(t, seg.Rules, 2)
		require.NotNil(t, seg.Test)
		assert.Equal(t, campaign.StatusDraft, seg.Test.Status)
		assert.Len(t, seg.Test.Variants, 2)

		// Stored rule values must recompile against the registry, the way a
		// router consumes them.
		require.NoError(t, loaded.Campaign.CompileRules(rules.DefaultRegistry()))
	})

	t.Run("Should return ErrNotFound for a missing campaign", func(t *testing.T) {
		_, err := repo.GetCampaign(ctx, "camp-ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Should bump the version on update", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-update")}
		require.NoError(t, repo.CreateCampaign(ctx, rec))

		rec.Campaign.Name = "Renamed"
		require.NoError(t, repo.UpdateCampaign(ctx, rec))
		assert.Equal(t, int64(2), rec.Version)

		loaded, err := repo.GetCampaign(ctx, "camp-update")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Campaign.Name)
	})

	t.Run("Should reject an update with a stale version", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-race")}
		require.NoError(t, repo.CreateCampaign(ctx, rec))

		stale := &store.CampaignRecord{Campaign: rec.Campaign, Version: rec.Version}
		require.NoError(t, repo.UpdateCampaign(ctx, rec)) // version is now 2

		err := repo.UpdateCampaign(ctx, stale)
		assert.ErrorIs(t, err, store.ErrVersionConflict)
	})

	t.Run("Should return ErrNotFound updating a deleted campaign", func(t *testing.T) {
		rec := &store.CampaignRecord{Campaign: testCampaign("camp-gone")}
		require.NoError(t, repo.CreateCampaign(ctx, rec))
		require.NoError(t, repo.DeleteCampaign(ctx, "camp-gone"))

		err := repo.UpdateCampaign(ctx, rec)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Should return ErrNotFound deleting a missing campaign", func(t *testing.T) {
		err := repo.DeleteCampaign(ctx, "camp-never-existed")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Should list campaigns with a total count", func(t *testing.T) {
		records, total, err := repo.ListCampaigns(ctx, 2, 0)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, total, int64(2))
		assert.LessOrEqual(t, len(records), 2)
	})

	t.Run("Should list every campaign for the syncer", func(t *testing.T) {
		records, err := repo.ListAllCampaigns(ctx)
		require.NoError(t, err)

		_, total, listErr := repo.ListCampaigns(ctx, 1, 0)
		require.NoError(t, listErr)
		assert.Equal(t, int(total), len(records))
	})
}

func TestTranslationStore_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	translations := store.NewTranslationStore(pgContainer.DB)

	t.Run("Should return translations ordered by locale", func(t *testing.T) {
		require.NoError(t, translations.UpsertTranslation(ctx, "lp-1",
			campaign.Translation{Locale: "fr", ContentRef: "content-fr"}))
		require.NoError(t, translations.UpsertTranslation(ctx, "lp-1",
			campaign.Translation{Locale: "de", ContentRef: "content-de"}))

		got, err := translations.TranslationsForPage(ctx, "lp-1")
		require.NoError(t, err)

		require.Len(t, got, 2)
		assert.Equal(t, "de", got[0].Locale)
		assert.Equal(t, "fr", got[1].Locale)
	})

	t.Run("Should return an empty slice for a page without translations", func(t *testing.T) {
		got, err := translations.TranslationsForPage(ctx, "lp-untranslated")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NotNil(t, got)
	})

	t.Run("Should replace the content ref on upsert", func(t *testing.T) {
		require.NoError(t, translations.UpsertTranslation(ctx, "lp-2",
			campaign.Translation{Locale: "en", ContentRef: "content-v1"}))
		require.NoError(t, translations.UpsertTranslation(ctx, "lp-2",
			campaign.Translation{Locale: "en", ContentRef: "content-v2"}))

		got, err := translations.TranslationsForPage(ctx, "lp-2")
		require.NoError(t, err)

		require.Len(t, got, 1)
		assert.Equal(t, "content-v2", got[0].ContentRef)
	})
}
