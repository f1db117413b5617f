package controlapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/store"
)

// fakeCampaignRepo is an in-memory CampaignRepository for handler tests.
type fakeCampaignRepo struct {
	mu      sync.Mutex
	records map[string]*store.CampaignRecord
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{records: map[string]*store.CampaignRecord{}}
}

func (f *fakeCampaignRepo) CreateCampaign(_ context.Context, rec *store.CampaignRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.Campaign.ID]; ok {
		return fmt.Errorf("%w: %q", store.ErrDuplicate, rec.Campaign.ID)
	}
	rec.Version = 1
	f.records[rec.Campaign.ID] = cloneRecord(rec)
	return nil
}

func (f *fakeCampaignRepo) GetCampaign(_ context.Context, id string) (*store.CampaignRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	return cloneRecord(rec), nil
}

func (f *fakeCampaignRepo) ListCampaigns(_ context.Context, limit, offset int) ([]*store.CampaignRecord, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.CampaignRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, cloneRecord(rec))
	}
	total := int64(len(out))
	if offset >= len(out) {
		return []*store.CampaignRecord{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (f *fakeCampaignRepo) UpdateCampaign(_ context.Context, rec *store.CampaignRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.records[rec.Campaign.ID]
	if !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, rec.Campaign.ID)
	}
	if current.Version != rec.Version {
		return fmt.Errorf("%w: %q", store.ErrVersionConflict, rec.Campaign.ID)
	}
	rec.Version++
	f.records[rec.Campaign.ID] = cloneRecord(rec)
	return nil
}

func (f *fakeCampaignRepo) DeleteCampaign(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	delete(f.records, id)
	return nil
}

func (f *fakeCampaignRepo) ListAllCampaigns(_ context.Context) ([]*store.CampaignRecord, error) {
	records, _, err := f.ListCampaigns(context.Background(), len(f.records), 0)
	return records, err
}

// cloneRecord deep-copies through JSON so handler mutations on the returned
// document never leak into the stored one, mimicking a real database.
func cloneRecord(rec *store.CampaignRecord) *store.CampaignRecord {
	raw, _ := json.Marshal(rec.Campaign)
	c := &campaign.Campaign{}
	_ = json.Unmarshal(raw, c)
	return &store.CampaignRecord{
		Campaign:  c,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// noopSnapshots satisfies cache.SnapshotService without a Redis connection.
type noopSnapshots struct{}

func (noopSnapshots) SetCampaign(context.Context, *cache.CampaignSnapshot) error { return nil }
func (noopSnapshots) GetCampaign(context.Context, string) (*cache.CampaignSnapshot, error) {
	return nil, nil
}
func (noopSnapshots) DeleteCampaign(context.Context, string) error { return nil }
func (noopSnapshots) PublishUpdate(context.Context, string) error  { return nil }
func (noopSnapshots) HealthCheck(context.Context) error            { return nil }
func (noopSnapshots) Close() error                                 { return nil }

// stubTranslations returns a fixed translation set for any page.
type stubTranslations struct {
	translations []campaign.Translation
	err          error
}

func (s *stubTranslations) TranslationsForPage(context.Context, string) ([]campaign.Translation, error) {
	return s.translations, s.err
}

func newTestAPI(t *testing.T) (*API, *fakeCampaignRepo) {
	t.Helper()
	repo := newFakeCampaignRepo()
	api := NewAPIWithConfig(repo, &stubTranslations{}, noopSnapshots{}, "", true)
	return api, repo
}

// doJSON performs a request against the API router and returns the recorder.
func doJSON(t *testing.T, api *API, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func decodeCampaign(t *testing.T, rr *httptest.ResponseRecorder) Campaign {
	t.Helper()
	var c Campaign
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	require.NotNil(t, c.Campaign)
	return c
}

// createCampaign seeds a campaign through the API.
func createCampaign(t *testing.T, api *API, id string) {
	t.Helper()
	rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
		ID:                    id,
		Name:                  "Spring Launch",
		FallbackLandingPageID: "lp-fallback",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

// createSegment seeds a segment with the given priority.
func createSegment(t *testing.T, api *API, campaignID, segmentID string, priority int) {
	t.Helper()
	rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/segments", CreateSegmentRequest{
		ID:                   segmentID,
		Title:                "Segment " + segmentID,
		Priority:             priority,
		PrimaryLandingPageID: "lp-" + segmentID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

// createTest seeds a draft test on the segment.
func createTest(t *testing.T, api *API, campaignID, segmentID string) {
	t.Helper()
	rr := doJSON(t, api, http.MethodPost,
		"/api/v1/campaigns/"+campaignID+"/segments/"+segmentID+"/test", CreateTestRequest{
			ID:                  "test-1",
			Title:               "Headline test",
			PoolingPercent:      40,
			ControlVariantID:    "var-control",
			ChallengerVariantID: "var-b",
		})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCampaignEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("Should create a campaign and return 201 with version 1", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
			ID:                    "spring-launch",
			Name:                  "Spring Launch",
			FallbackLandingPageID: "lp-fallback",
		})

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		assert.Equal(t, "spring-launch", c.ID)
		assert.Equal(t, int64(1), c.Version)
		assert.NotNil(t, c.Segments)
	})

	t.Run("Should reject an invalid campaign id", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
			ID:                    "Not A Slug!",
			Name:                  "Bad",
			FallbackLandingPageID: "lp-x",
		})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_INPUT")
	})

	t.Run("Should return 409 on duplicate campaign id", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "dup-camp")

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
			ID:                    "dup-camp",
			Name:                  "Again",
			FallbackLandingPageID: "lp-x",
		})

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_CONFLICT")
	})

	t.Run("Should return 404 for an unknown campaign", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodGet, "/api/v1/campaigns/ghost", nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_NOT_FOUND")
	})

	t.Run("Should patch name and fallback page and bump the version", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "patch-camp")

		name := "Renamed"
		fallback := "lp-new-fallback"
		rr := doJSON(t, api, http.MethodPatch, "/api/v1/campaigns/patch-camp", UpdateCampaignRequest{
			Name:                  &name,
			FallbackLandingPageID: &fallback,
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		assert.Equal(t, "Renamed", c.Name)
		assert.Equal(t, "lp-new-fallback", c.FallbackLandingPageID)
		assert.Equal(t, int64(2), c.Version)
	})

	t.Run("Should delete a campaign and return 204", func(t *testing.T) {
		t.Parallel()
		api, repo := newTestAPI(t)
		createCampaign(t, api, "del-camp")

		rr := doJSON(t, api, http.MethodDelete, "/api/v1/campaigns/del-camp", nil)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		_, err := repo.GetCampaign(context.Background(), "del-camp")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("Should paginate the campaign list", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		for i := 0; i < 3; i++ {
			createCampaign(t, api, fmt.Sprintf("camp-%d", i))
		}

		rr := doJSON(t, api, http.MethodGet, "/api/v1/campaigns?page=1&page_size=2", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Data       []Campaign `json:"data"`
			Pagination Pagination `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 2)
		assert.Equal(t, int64(3), resp.Pagination.TotalItems)
		assert.Equal(t, 2, resp.Pagination.TotalPages)
	})

	t.Run("Should reject a malformed pagination parameter", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodGet, "/api/v1/campaigns?page=banana", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_QUERY_PARAM")
	})
}

func TestSegmentEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("Should create a segment seeded with the default rule", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "seg-camp")

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/seg-camp/segments", CreateSegmentRequest{
			ID:                   "seg-us",
			Title:                "US visitors",
			Priority:             1,
			PrimaryLandingPageID: "lp-us",
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		require.Len(t, c.Segments, 1)
		require.Len(t, c.Segments[0].Rules, 1)
		assert.True(t, c.Segments[0].Rules[0].IsRequired)
	})

	t.Run("Should reject a duplicate priority", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "prio-camp")
		createSegment(t, api, "prio-camp", "seg-a", 1)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/prio-camp/segments", CreateSegmentRequest{
			ID:                   "seg-b",
			Title:                "Clash",
			Priority:             1,
			PrimaryLandingPageID: "lp-b",
		})

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "priority")
	})

	t.Run("Should keep segments sorted by priority after an update", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "sort-camp")
		createSegment(t, api, "sort-camp", "seg-a", 1)
		createSegment(t, api, "sort-camp", "seg-b", 2)

		prio := 0
		rr := doJSON(t, api, http.MethodPatch, "/api/v1/campaigns/sort-camp/segments/seg-b", UpdateSegmentRequest{
			Priority: &prio,
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		require.Len(t, c.Segments, 2)
		assert.Equal(t, "seg-b", c.Segments[0].ID)
	})

	t.Run("Should add a country rule to a segment", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "rule-camp")
		createSegment(t, api, "rule-camp", "seg-a", 1)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/rule-camp/segments/seg-a/rules",
			map[string]interface{}{
				"id":       "rule-country",
				"type":     "country",
				"operator": "equals",
				"value":    "US",
			})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		require.Len(t, c.Segments[0].Rules, 2)
	})

	t.Run("Should generate an id for a rule created without one", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "genrule-camp")
		createSegment(t, api, "genrule-camp", "seg-a", 1)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/genrule-camp/segments/seg-a/rules",
			map[string]interface{}{
				"type":     "deviceType",
				"operator": "equals",
				"value":    "mobile",
			})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		require.Len(t, c.Segments[0].Rules, 2)
		assert.NotEmpty(t, c.Segments[0].Rules[1].ID)
	})

	t.Run("Should reject a rule with an unknown type", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "badrule-camp")
		createSegment(t, api, "badrule-camp", "seg-a", 1)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/badrule-camp/segments/seg-a/rules",
			map[string]interface{}{
				"id":       "rule-x",
				"type":     "astrology",
				"operator": "equals",
				"value":    "aries",
			})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_INVALID_INPUT")
	})

	t.Run("Should reject a second rule of the same type", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "duprule-camp")
		createSegment(t, api, "duprule-camp", "seg-a", 1)

		addRule := func() *httptest.ResponseRecorder {
			return doJSON(t, api, http.MethodPost, "/api/v1/campaigns/duprule-camp/segments/seg-a/rules",
				map[string]interface{}{
					"id":       "rule-country",
					"type":     "country",
					"operator": "equals",
					"value":    "US",
				})
		}
		require.Equal(t, http.StatusOK, addRule().Code)

		rr := addRule()
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Should protect the required default rule from deletion", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "reqrule-camp")
		createSegment(t, api, "reqrule-camp", "seg-a", 1)

		rr := doJSON(t, api, http.MethodDelete,
			"/api/v1/campaigns/reqrule-camp/segments/seg-a/rules/seg-a-default", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestTestEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("Should create a draft test with control inheriting the segment page", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "ab-camp")
		createSegment(t, api, "ab-camp", "seg-a", 1)
		createTest(t, api, "ab-camp", "seg-a")

		rr := doJSON(t, api, http.MethodGet, "/api/v1/campaigns/ab-camp", nil)
		c := decodeCampaign(t, rr)

		test := c.Segments[0].Test
		require.NotNil(t, test)
		assert.Equal(t, campaign.StatusDraft, test.Status)
		assert.Equal(t, 40, test.PoolingPercent)
		require.Len(t, test.Variants, 2)
		assert.Equal(t, "lp-seg-a", test.Variants[0].LandingPageID)
		assert.Empty(t, test.Variants[1].LandingPageID)
		assert.Equal(t, 50, test.Variants[0].TrafficPercentage)
		assert.Equal(t, 50, test.Variants[1].TrafficPercentage)
	})

	t.Run("Should reject a second test on the same segment", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "onetest-camp")
		createSegment(t, api, "onetest-camp", "seg-a", 1)
		createTest(t, api, "onetest-camp", "seg-a")

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/onetest-camp/segments/seg-a/test",
			CreateTestRequest{
				ID:                  "test-2",
				Title:               "Second",
				PoolingPercent:      10,
				ControlVariantID:    "var-c2",
				ChallengerVariantID: "var-d2",
			})

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Should refuse to start a test with an unassigned variant page", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "notready-camp")
		createSegment(t, api, "notready-camp", "seg-a", 1)
		createTest(t, api, "notready-camp", "seg-a")

		rr := doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/notready-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_TEST_NOT_READY")
		assert.Contains(t, rr.Body.String(), "var-b")
	})

	t.Run("Should start a fully configured test", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "start-camp")
		createSegment(t, api, "start-camp", "seg-a", 1)
		createTest(t, api, "start-camp", "seg-a")

		lp := "lp-challenger"
		rr := doJSON(t, api, http.MethodPatch,
			"/api/v1/campaigns/start-camp/segments/seg-a/test/variants/var-b",
			UpdateVariantRequest{LandingPageID: &lp})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/start-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		test := c.Segments[0].Test
		assert.Equal(t, campaign.StatusRunning, test.Status)
		assert.NotNil(t, test.StartedAt)
	})

	t.Run("Should add a variant and re-split traffic equally", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "split-camp")
		createSegment(t, api, "split-camp", "seg-a", 1)
		createTest(t, api, "split-camp", "seg-a")

		rr := doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/split-camp/segments/seg-a/test/variants",
			AddVariantRequest{ID: "var-c", Title: "Variant C"})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		variants := c.Segments[0].Test.Variants
		require.Len(t, variants, 3)
		total := 0
		for _, v := range variants {
			total += v.TrafficPercentage
		}
		assert.Equal(t, 100, total)
		// The control absorbs the integer remainder of 100/3.
		assert.Equal(t, 34, variants[0].TrafficPercentage)
	})

	t.Run("Should protect the control variant from deletion", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "ctl-camp")
		createSegment(t, api, "ctl-camp", "seg-a", 1)
		createTest(t, api, "ctl-camp", "seg-a")

		rr := doJSON(t, api, http.MethodDelete,
			"/api/v1/campaigns/ctl-camp/segments/seg-a/test/variants/var-control", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should delete a draft test but not a running one", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "deltest-camp")
		createSegment(t, api, "deltest-camp", "seg-a", 1)
		createTest(t, api, "deltest-camp", "seg-a")

		lp := "lp-challenger"
		doJSON(t, api, http.MethodPatch,
			"/api/v1/campaigns/deltest-camp/segments/seg-a/test/variants/var-b",
			UpdateVariantRequest{LandingPageID: &lp})
		rr := doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/deltest-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(t, api, http.MethodDelete,
			"/api/v1/campaigns/deltest-camp/segments/seg-a/test", nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Should promote a winner and rewire the segment", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "winner-camp")
		createSegment(t, api, "winner-camp", "seg-a", 1)
		createTest(t, api, "winner-camp", "seg-a")

		lp := "lp-challenger"
		doJSON(t, api, http.MethodPatch,
			"/api/v1/campaigns/winner-camp/segments/seg-a/test/variants/var-b",
			UpdateVariantRequest{LandingPageID: &lp})
		doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/winner-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})

		rr := doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/winner-camp/segments/seg-a/test/winner",
			PromoteWinnerRequest{VariantID: "var-b"})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		c := decodeCampaign(t, rr)
		seg := c.Segments[0]
		assert.Equal(t, "lp-challenger", seg.PrimaryLandingPageID)
		require.NotNil(t, seg.Test)
		assert.Equal(t, campaign.StatusCompleted, seg.Test.Status)
		assert.Equal(t, "var-b", seg.Test.Winner)
	})

	t.Run("Should freeze segment edits after promotion", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "frozen-camp")
		createSegment(t, api, "frozen-camp", "seg-a", 1)
		createTest(t, api, "frozen-camp", "seg-a")

		lp := "lp-challenger"
		doJSON(t, api, http.MethodPatch,
			"/api/v1/campaigns/frozen-camp/segments/seg-a/test/variants/var-b",
			UpdateVariantRequest{LandingPageID: &lp})
		doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/frozen-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})
		doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/frozen-camp/segments/seg-a/test/winner",
			PromoteWinnerRequest{VariantID: "var-b"})

		rr := doJSON(t, api, http.MethodPost, "/api/v1/campaigns/frozen-camp/segments/seg-a/rules",
			map[string]interface{}{
				"id":       "rule-late",
				"type":     "country",
				"operator": "equals",
				"value":    "US",
			})

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_SEGMENT_FROZEN")
	})

	t.Run("Should return 404 promoting an unknown variant", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)
		createCampaign(t, api, "ghostvar-camp")
		createSegment(t, api, "ghostvar-camp", "seg-a", 1)
		createTest(t, api, "ghostvar-camp", "seg-a")

		lp := "lp-challenger"
		doJSON(t, api, http.MethodPatch,
			"/api/v1/campaigns/ghostvar-camp/segments/seg-a/test/variants/var-b",
			UpdateVariantRequest{LandingPageID: &lp})
		doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/ghostvar-camp/segments/seg-a/test/actions",
			LifecycleRequest{Action: "start"})

		rr := doJSON(t, api, http.MethodPost,
			"/api/v1/campaigns/ghostvar-camp/segments/seg-a/test/winner",
			PromoteWinnerRequest{VariantID: "var-ghost"})

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	apiKey := "super-secret-key"
	sum := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(sum[:])

	newAuthedAPI := func() *API {
		return NewAPI(newFakeCampaignRepo(), &stubTranslations{}, noopSnapshots{}, keyHash)
	}

	t.Run("Should reject requests without an API key", func(t *testing.T) {
		t.Parallel()
		api := newAuthedAPI()

		rr := doJSON(t, api, http.MethodGet, "/api/v1/campaigns", nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_UNAUTHORIZED")
	})

	t.Run("Should reject requests with a wrong API key", func(t *testing.T) {
		t.Parallel()
		api := newAuthedAPI()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
		req.Header.Set("X-API-Key", "wrong-key")
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Should accept requests with the correct API key", func(t *testing.T) {
		t.Parallel()
		api := newAuthedAPI()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
		req.Header.Set("X-API-Key", apiKey)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should keep the health endpoint public", func(t *testing.T) {
		t.Parallel()
		api := newAuthedAPI()

		rr := doJSON(t, api, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should panic when auth is enabled without a key hash", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			NewAPI(newFakeCampaignRepo(), &stubTranslations{}, noopSnapshots{}, "")
		})
	})
}

func TestRuleTypeCatalog(t *testing.T) {
	t.Parallel()

	t.Run("Should list the built-in rule types", func(t *testing.T) {
		t.Parallel()
		api, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodGet, "/api/v1/rule-types", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp struct {
			Data []struct {
				ID        string   `json:"id"`
				Operators []string `json:"operators"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Data)

		ids := make([]string, len(resp.Data))
		for i, d := range resp.Data {
			ids[i] = d.ID
		}
		assert.Contains(t, ids, "country")
		assert.Contains(t, ids, "deviceType")
	})
}
