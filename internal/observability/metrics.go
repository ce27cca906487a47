package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the automap collectors. All collectors are registered on the
// registerer passed to NewMetrics.
type Metrics struct {
	// Transitions counts MoveTo calls by outcome: "path" or a skip reason.
	Transitions *prometheus.CounterVec
	// RoomsCreated counts rooms placed on any map.
	RoomsCreated prometheus.Counter
	// Saves counts persisted maps by result: "ok" or "error".
	Saves *prometheus.CounterVec
	// SaveDuration measures encode plus store round trips.
	SaveDuration prometheus.Histogram
	// DecodeFailures counts stored maps discarded as unreadable.
	DecodeFailures prometheus.Counter
	// SceneOps counts reconciliation operations by kind: created, updated, removed.
	SceneOps *prometheus.CounterVec
	// ActiveSessions tracks story sessions held in memory.
	ActiveSessions prometheus.Gauge
	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration measures API latency by method and route.
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector on reg.
//
// Precondition: reg must be non-nil and must not already hold automap collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "automap_transitions_total",
			Help: "Room transitions processed, by outcome",
		}, []string{"outcome"}),
		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "automap_rooms_created_total",
			Help: "Rooms placed on a map",
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "automap_saves_total",
			Help: "Map saves, by result",
		}, []string{"result"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "automap_save_duration_seconds",
			Help:    "Duration of map encode and store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "automap_decode_failures_total",
			Help: "Stored maps discarded as unreadable",
		}),
		SceneOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "automap_scene_ops_total",
			Help: "Scene reconciliation operations, by kind",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "automap_active_sessions",
			Help: "Story sessions held in memory",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "automap_http_requests_total",
			Help: "HTTP requests processed",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}
