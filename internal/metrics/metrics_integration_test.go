package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9' {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_BridgeMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.ObserveHTTP(http.MethodGet, "/layers", 200, 0.004)
	observability.ObserveRecompute("poles", true, 0.002)
	observability.ObserveRecompute("poles", false, 0.001)
	observability.IncReprojectFallback("project_error")
	observability.ObserveSpatialQuery(12, 0.0007)
	observability.IncEditCommit("create", "ok")
	observability.IncMapEvent("row_created")
	observability.IncElevationSample("terrain")
	observability.ObserveStoreOp("mset", "ok", 0.001)
	observability.SetTrackedLayers(3)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, s := range []string{
		`http_request_duration_seconds_bucket`,
		`overlay_recompute_duration_seconds_count{layer="poles"} 2`,
		`reproject_fallback_total{reason="project_error"} 1`,
		`spatial_query_rows_total 12`,
		`edit_commit_total{op="create",status="ok"} 1`,
		`map_events_total{kind="row_created"} 1`,
		`elevation_samples_total{source="terrain"} 1`,
		`tracked_layers 3`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}
	assertHasMetricLine(t, body, "http_requests_total", `method="GET"`, `route="/layers"`, `status="200"`)
	assertHasMetricLine(t, body, "overlay_recompute_total", `changed="true"`, `layer="poles"`)
	assertHasMetricLine(t, body, "snapshot_store_op_total", `op="mset"`, `status="ok"`)
}

func Test_BridgeMetrics_DisabledIsNoop(t *testing.T) {
	p := Init(Config{})
	observability.Init(p.Registerer(), false)
	observability.IncEditCommit("create", "ok")

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), "edit_commit_total") {
		t.Fatalf("disabled series should not be exposed:\n%s", rr.Body.String())
	}
}
