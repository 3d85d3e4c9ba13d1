// Package observability holds the bridge's Prometheus series. Nothing is
// recorded until Init registers the collectors.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type series struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	overlayRecomputeTotal      *prometheus.CounterVec
	overlayRecomputeSeconds    *prometheus.HistogramVec
	reprojectFallbackTotal     *prometheus.CounterVec
	spatialQuerySeconds        prometheus.Histogram
	spatialQueryRowsTotal      prometheus.Counter
	editCommitTotal            *prometheus.CounterVec
	mapEventsTotal             *prometheus.CounterVec
	elevationSamplesTotal      *prometheus.CounterVec
	storeOpTotal               *prometheus.CounterVec
	storeOpSeconds             *prometheus.HistogramVec
	trackedLayers              prometheus.Gauge
}

var current atomic.Pointer[series]

// Init registers every series on reg. When enabled is false all observers
// stay no-ops.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		current.Store(nil)
		return
	}
	f := promauto.With(reg)
	s := &series{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		overlayRecomputeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_recompute_total",
				Help: "Overlay recomputes by layer and whether the payload changed.",
			},
			[]string{"layer", "changed"},
		),
		overlayRecomputeSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlay_recompute_duration_seconds",
				Help:    "Duration of overlay recomputes in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"layer"},
		),
		reprojectFallbackTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reproject_fallback_total",
				Help: "Reprojections that kept the input geometry, by reason.",
			},
			[]string{"reason"},
		),
		spatialQuerySeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spatial_query_duration_seconds",
				Help:    "Duration of feature table spatial queries in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		spatialQueryRowsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "spatial_query_rows_total",
				Help: "Rows returned by spatial queries, before de-duplication.",
			},
		),
		editCommitTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edit_commit_total",
				Help: "Viewer geometry commits by operation and status.",
			},
			[]string{"op", "status"},
		),
		mapEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "map_events_total",
				Help: "Map notifications handled, by kind.",
			},
			[]string{"kind"},
		),
		elevationSamplesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elevation_samples_total",
				Help: "Elevation captures by source (terrain or cache).",
			},
			[]string{"source"},
		),
		storeOpTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_store_op_total",
				Help: "Snapshot store operations by op and status.",
			},
			[]string{"op", "status"},
		),
		storeOpSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapshot_store_op_duration_seconds",
				Help:    "Duration of snapshot store operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
		trackedLayers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracked_layers",
				Help: "Number of feature layers currently bound to the viewer.",
			},
		),
	}
	current.Store(s)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := current.Load()
	if s == nil {
		return
	}
	st := strconv.Itoa(status)
	s.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	s.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveRecompute(layer string, changed bool, durationSeconds float64) {
	s := current.Load()
	if s == nil {
		return
	}
	s.overlayRecomputeTotal.WithLabelValues(layer, strconv.FormatBool(changed)).Inc()
	s.overlayRecomputeSeconds.WithLabelValues(layer).Observe(durationSeconds)
}

func IncReprojectFallback(reason string) {
	if s := current.Load(); s != nil {
		s.reprojectFallbackTotal.WithLabelValues(reason).Inc()
	}
}

func ObserveSpatialQuery(rows int, durationSeconds float64) {
	s := current.Load()
	if s == nil {
		return
	}
	s.spatialQuerySeconds.Observe(durationSeconds)
	s.spatialQueryRowsTotal.Add(float64(rows))
}

func IncEditCommit(op, status string) {
	if s := current.Load(); s != nil {
		s.editCommitTotal.WithLabelValues(op, status).Inc()
	}
}

func IncMapEvent(kind string) {
	if s := current.Load(); s != nil {
		s.mapEventsTotal.WithLabelValues(kind).Inc()
	}
}

func IncElevationSample(source string) {
	if s := current.Load(); s != nil {
		s.elevationSamplesTotal.WithLabelValues(source).Inc()
	}
}

func ObserveStoreOp(op, status string, durationSeconds float64) {
	s := current.Load()
	if s == nil {
		return
	}
	s.storeOpTotal.WithLabelValues(op, status).Inc()
	s.storeOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func SetTrackedLayers(n int) {
	if s := current.Load(); s != nil {
		s.trackedLayers.Set(float64(n))
	}
}
