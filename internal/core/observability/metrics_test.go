package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers_NoopBeforeInit(t *testing.T) {
	Init(nil, false)
	ObserveHTTP("GET", "/layers", 200, 0.01)
	ObserveRecompute("poles", true, 0.01)
	IncReprojectFallback("engine_error")
	SetTrackedLayers(3)
}

func TestInit_RegistersSeriesWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	t.Cleanup(func() { Init(nil, false) })

	ObserveHTTP("GET", "/layers", 200, 0.002)
	ObserveRecompute("poles", true, 0.01)
	ObserveRecompute("poles", false, 0.01)
	IncReprojectFallback("engine_error")
	ObserveSpatialQuery(4, 0.001)
	IncEditCommit("create", "ok")
	IncMapEvent("selection_changed")
	IncElevationSample("terrain")
	ObserveStoreOp("put", "ok", 0.001)
	SetTrackedLayers(2)

	s := current.Load()
	if got := testutil.ToFloat64(s.overlayRecomputeTotal.WithLabelValues("poles", "true")); got != 1 {
		t.Fatalf("overlay_recompute_total{changed=true}=%v want 1", got)
	}
	if got := testutil.ToFloat64(s.spatialQueryRowsTotal); got != 4 {
		t.Fatalf("spatial_query_rows_total=%v want 4", got)
	}
	if got := testutil.ToFloat64(s.trackedLayers); got != 2 {
		t.Fatalf("tracked_layers=%v want 2", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`http_requests_total{method="GET",route="/layers",status="200"} 1`,
		`reproject_fallback_total{reason="engine_error"} 1`,
		`edit_commit_total{op="create",status="ok"} 1`,
		`map_events_total{kind="selection_changed"} 1`,
		`elevation_samples_total{source="terrain"} 1`,
		`snapshot_store_op_total{op="put",status="ok"} 1`,
		`overlay_recompute_duration_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}
