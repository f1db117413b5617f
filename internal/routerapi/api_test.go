package routerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/routing"
	"github.com/rcabral/switchyard/internal/rules"
)

// fakeL2 is an in-memory SnapshotService that counts reads.
type fakeL2 struct {
	mu        sync.Mutex
	snapshots map[string]*cache.CampaignSnapshot
	getCalls  int
	getErr    error
}

func newFakeL2() *fakeL2 {
	return &fakeL2{snapshots: map[string]*cache.CampaignSnapshot{}}
}

func (f *fakeL2) SetCampaign(_ context.Context, c *cache.CampaignSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[c.Campaign.ID] = c
	return nil
}

func (f *fakeL2) GetCampaign(_ context.Context, id string) (*cache.CampaignSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.snapshots[id], nil
}

func (f *fakeL2) DeleteCampaign(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, id)
	return nil
}

func (f *fakeL2) PublishUpdate(context.Context, string) error { return nil }
func (f *fakeL2) HealthCheck(context.Context) error           { return nil }
func (f *fakeL2) Close() error                                { return nil }

func (f *fakeL2) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// testSnapshot builds a campaign with one US-only segment. The rules are left
// uncompiled, the way they arrive from a deserialized Redis value.
func testSnapshot(id string) *cache.CampaignSnapshot {
	seg := campaign.Segment{
		ID:                   "seg-us",
		Title:                "US visitors",
		Priority:             1,
		PrimaryLandingPageID: "lp-us",
		Rules: []rules.Rule{
			{
				ID:       "rule-country",
				Type:     rules.TypeCountry,
				Op:       rules.OpEquals,
				RawValue: json.RawMessage(`"US"`),
			},
		},
	}

	return &cache.CampaignSnapshot{
		Campaign: &campaign.Campaign{
			ID:                    id,
			Name:                  "Routing test",
			FallbackLandingPageID: "lp-fallback",
			Segments:              []campaign.Segment{seg},
		},
		Version:     7,
		PublishedAt: time.Now().UTC(),
	}
}

func newTestAPI(t *testing.T) (*API, *fakeL2, *cache.MemoryCache) {
	t.Helper()

	l1, err := cache.NewMemoryCache(64, time.Minute)
	require.NoError(t, err)
	t.Cleanup(l1.Close)

	l2 := newFakeL2()
	return NewAPI(l1, l2, nil), l2, l1
}

func decide(t *testing.T, api *API, req DecideRequest) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(req))

	r := httptest.NewRequest(http.MethodPost, "/v1/decide", &buf)
	r.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, r)
	return rr
}

func decodeDecision(t *testing.T, rr *httptest.ResponseRecorder) decideResponse {
	t.Helper()
	var resp decideResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleDecide(t *testing.T) {
	t.Parallel()

	t.Run("Should reject a request without campaign_id", func(t *testing.T) {
		t.Parallel()
		api, _, _ := newTestAPI(t)

		rr := decide(t, api, DecideRequest{VisitorID: "v-1"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "campaign_id is required")
	})

	t.Run("Should reject a request without visitor_id", func(t *testing.T) {
		t.Parallel()
		api, _, _ := newTestAPI(t)

		rr := decide(t, api, DecideRequest{CampaignID: "camp-1"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "visitor_id is required")
	})

	t.Run("Should return 404 for an unknown campaign", func(t *testing.T) {
		t.Parallel()
		api, _, _ := newTestAPI(t)

		rr := decide(t, api, DecideRequest{CampaignID: "ghost", VisitorID: "v-1"})

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_NOT_FOUND")
	})

	t.Run("Should return 503 when the snapshot store is down", func(t *testing.T) {
		t.Parallel()
		api, l2, _ := newTestAPI(t)
		l2.getErr = errors.New("connection refused")

		rr := decide(t, api, DecideRequest{CampaignID: "camp-1", VisitorID: "v-1"})

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "ERR_SNAPSHOT_UNAVAILABLE")
	})

	t.Run("Should serve the segment page for a matching visitor", func(t *testing.T) {
		t.Parallel()
		api, l2, _ := newTestAPI(t)
		require.NoError(t, l2.SetCampaign(context.Background(), testSnapshot("camp-match")))

		rr := decide(t, api, DecideRequest{
			CampaignID: "camp-match",
			VisitorID:  "v-1",
			Attributes: rules.Attributes{"country": "US"},
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decodeDecision(t, rr)
		assert.Equal(t, routing.ReasonSegmentPrimary, resp.Reason)
		assert.Equal(t, "seg-us", resp.SegmentID)
		assert.Equal(t, "lp-us", resp.LandingPageID)
		assert.Equal(t, int64(7), resp.Version)
	})

	t.Run("Should serve the fallback page when no segment matches", func(t *testing.T) {
		t.Parallel()
		api, l2, _ := newTestAPI(t)
		require.NoError(t, l2.SetCampaign(context.Background(), testSnapshot("camp-fallback")))

		rr := decide(t, api, DecideRequest{
			CampaignID: "camp-fallback",
			VisitorID:  "v-1",
			Attributes: rules.Attributes{"country": "DE"},
		})

		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeDecision(t, rr)
		assert.Equal(t, routing.ReasonNoMatch, resp.Reason)
		assert.Equal(t, "lp-fallback", resp.LandingPageID)
		assert.Empty(t, resp.SegmentID)
	})

	t.Run("Should fill the L1 cache on the first read", func(t *testing.T) {
		t.Parallel()
		api, l2, _ := newTestAPI(t)
		require.NoError(t, l2.SetCampaign(context.Background(), testSnapshot("camp-l1")))

		req := DecideRequest{
			CampaignID: "camp-l1",
			VisitorID:  "v-1",
			Attributes: rules.Attributes{"country": "US"},
		}
		require.Equal(t, http.StatusOK, decide(t, api, req).Code)
		require.Equal(t, http.StatusOK, decide(t, api, req).Code)
		require.Equal(t, http.StatusOK, decide(t, api, req).Code)

		assert.Equal(t, 1, l2.calls(), "only the first request should hit L2")
	})

	t.Run("Should re-read from L2 after an invalidation", func(t *testing.T) {
		t.Parallel()
		api, l2, l1 := newTestAPI(t)
		require.NoError(t, l2.SetCampaign(context.Background(), testSnapshot("camp-inv")))

		req := DecideRequest{
			CampaignID: "camp-inv",
			VisitorID:  "v-1",
			Attributes: rules.Attributes{"country": "US"},
		}
		require.Equal(t, http.StatusOK, decide(t, api, req).Code)

		// The control plane rewires the segment and publishes a new snapshot.
		updated := testSnapshot("camp-inv")
		updated.Campaign.Segments[0].PrimaryLandingPageID = "lp-us-v2"
		updated.Version = 8
		require.NoError(t, l2.SetCampaign(context.Background(), updated))
		l1.Del("camp-inv")

		rr := decide(t, api, req)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeDecision(t, rr)
		assert.Equal(t, "lp-us-v2", resp.LandingPageID)
		assert.Equal(t, int64(8), resp.Version)
	})

	t.Run("Should give the same visitor a sticky decision", func(t *testing.T) {
		t.Parallel()
		api, l2, _ := newTestAPI(t)

		snap := testSnapshot("camp-sticky")
		seg := &snap.Campaign.Segments[0]
		seg.Test = campaign.NewABTest("test-1", seg.ID, "Headline test", 100, "var-control", "var-b")
		seg.Test.Variants[0].LandingPageID = seg.PrimaryLandingPageID
		seg.Test.Variants[1].LandingPageID = "lp-challenger"
		now := time.Now().UTC()
		seg.Test.Status = campaign.StatusRunning
		seg.Test.StartedAt = &now
		require.NoError(t, l2.SetCampaign(context.Background(), snap))

		req := DecideRequest{
			CampaignID: "camp-sticky",
			VisitorID:  "v-sticky",
			Attributes: rules.Attributes{"country": "US"},
		}

		first := decodeDecision(t, decide(t, api, req))
		assert.Equal(t, routing.ReasonTestVariant, first.Reason)
		assert.True(t, first.Exposed)

		for i := 0; i < 10; i++ {
			again := decodeDecision(t, decide(t, api, req))
			assert.Equal(t, first.VariantID, again.VariantID)
			assert.Equal(t, first.LandingPageID, again.LandingPageID)
		}
	})
}

func TestNewAPI(t *testing.T) {
	t.Parallel()

	t.Run("Should panic on nil caches", func(t *testing.T) {
		t.Parallel()

		l1, err := cache.NewMemoryCache(8, time.Minute)
		require.NoError(t, err)
		t.Cleanup(l1.Close)

		assert.Panics(t, func() { NewAPI(nil, newFakeL2(), nil) })
		assert.Panics(t, func() { NewAPI(l1, nil, nil) })
	})
}
