package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric (switchyard_...).
const namespace = "switchyard"

// lowLatencyBuckets adds 1-2ms resolution for the visitor decision path,
// where the default buckets starting at 5ms are too coarse.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (campaign authoring API)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures HTTP handling latency.
	// Metric: switchyard_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control plane",
		Buckets:   prometheus.DefBuckets, // authoring traffic is human speed
	}, []string{"method", "path"})

	// ControlPlaneReqTotal counts HTTP requests by outcome.
	// Metric: switchyard_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control plane",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// ROUTER PLANE (visitor decision endpoint)
	// -------------------------------------------------------------------------

	// RouterReqDuration measures decision latency end to end.
	// Metric: switchyard_router_http_handling_seconds
	RouterReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle visitor decision requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// RouterReqTotal counts decision requests by outcome.
	// Metric: switchyard_router_http_requests_total
	RouterReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "http_requests_total",
		Help:      "Total visitor decision requests",
	}, []string{"method", "path", "code"})

	// RouterDecisions counts routing outcomes by reason
	// (NO_MATCH, SEGMENT_PRIMARY, TEST_BYPASS, TEST_VARIANT).
	RouterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Total routing decisions by reason",
	}, []string{"reason"})

	// --- Snapshot cache (L1, in-memory) ---

	RouterCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 campaign snapshot cache hits",
	})

	RouterCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 campaign snapshot cache misses",
	})

	RouterCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "l1_cache_items_count",
		Help:      "Current number of campaign snapshots in the L1 cache",
	})

	// -------------------------------------------------------------------------
	// SYNCER (snapshot propagation worker)
	// -------------------------------------------------------------------------

	// SyncerCycleDuration measures one full publication cycle.
	SyncerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one snapshot publication cycle",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncerCampaignsTotal counts per-campaign publication outcomes.
	SyncerCampaignsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "campaigns_total",
		Help:      "Total campaign snapshots published, by status",
	}, []string{"status"}) // success, fail
)
